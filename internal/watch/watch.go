// Package watch prints push messages as they arrive, for operators following
// a live system from a terminal or for piping into other tools.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/hieratika/internal/dispatch"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

// OutputFormat specifies how each message is written.
type OutputFormat string

const (
	// OutputFormatDefault writes one human readable line per message
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one JSON object per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a format name. "json" is accepted for jsonl.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", string(OutputFormatDefault):
		return OutputFormatDefault, nil
	case string(OutputFormatJSONL), "json":
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s", s)
}

// FilterCriteria selects the messages to print. All filters are ANDed.
type FilterCriteria struct {
	Kinds        []hieratika.Kind // empty = every kind
	VariableGlob string           // glob over variable names, empty = no filter
}

// apply returns the message to print, restricted to the matching variables,
// or nil when it is filtered out.
func (fc *FilterCriteria) apply(msg *hieratika.Message) *hieratika.Message {
	if fc == nil {
		return msg
	}
	if len(fc.Kinds) > 0 {
		found := false
		for _, k := range fc.Kinds {
			if msg.Kind() == k {
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	if fc.VariableGlob == "" || msg.Variables == nil {
		return msg
	}

	kept := hieratika.Values{}
	for name, v := range msg.Variables {
		if matched, err := filepath.Match(fc.VariableGlob, name); err == nil && matched {
			kept[name] = v
		}
	}
	if len(kept) == 0 {
		return nil
	}
	out := *msg
	out.Variables = kept
	out.Raw = nil
	return &out
}

// Options configures Stream.
type Options struct {
	Format OutputFormat
	Filter *FilterCriteria
	// Dispatcher, when set, receives every message with Schedule as the
	// active schedule; messages it drops are not printed.
	Dispatcher *dispatch.Dispatcher
	Schedule   string
	// Now stamps default output, time.Now when nil.
	Now func() time.Time
}

// Stream writes the messages of sub to w until ctx ends or the subscription
// closes, and returns the number of messages written. Undecodable payloads
// are written to errW when it is not nil.
func Stream(ctx context.Context, sub *hieratika.Subscription, opts *Options, w, errW io.Writer) (int, error) {
	if opts == nil {
		opts = &Options{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	written := 0
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return written, nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errW != nil {
				fmt.Fprintf(errW, "⚠️  Skipping push message: %v\n", err)
			}

		case msg, ok := <-sub.Events():
			if !ok {
				return written, nil
			}
			if opts.Dispatcher != nil {
				if res := opts.Dispatcher.Dispatch(msg, opts.Schedule); res.Dropped {
					continue
				}
			}
			msg = opts.Filter.apply(msg)
			if msg == nil {
				continue
			}
			if err := Format(w, msg, opts.Format, now()); err != nil {
				return written, err
			}
			written++
		}
	}
}

// jsonEvent is the jsonl envelope of one message.
type jsonEvent struct {
	Kind    hieratika.Kind  `json:"kind"`
	Time    time.Time       `json:"time"`
	Message json.RawMessage `json:"message"`
}

// Format writes msg in format.
func Format(w io.Writer, msg *hieratika.Message, format OutputFormat, at time.Time) error {
	switch format {
	case OutputFormatDefault, "":
		_, err := fmt.Fprintf(w, "[%s] %s\n", at.Format("15:04:05"), formatMessage(msg))
		return err

	case OutputFormatJSONL:
		payload := msg.Raw
		if payload == nil {
			var err error
			if payload, err = msg.Payload(); err != nil {
				return fmt.Errorf("failed to marshal message to JSON: %w", err)
			}
		}
		data, err := json.Marshal(jsonEvent{Kind: msg.Kind(), Time: at.UTC(), Message: payload})
		if err != nil {
			return fmt.Errorf("failed to marshal message to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown output format: %s", format)
}

func formatMessage(msg *hieratika.Message) string {
	switch msg.Kind() {
	case hieratika.KindReset:
		return fmt.Sprintf("🔌 Stream reset: tid=%s", msg.Tid)
	case hieratika.KindLogout:
		return fmt.Sprintf("🚪 Logout: token=%s", formatToken(msg.Logout))
	case hieratika.KindTransformation:
		return "⚙️  " + formatTransformation(msg)
	case hieratika.KindLive:
		return "📈 Live: " + formatValues(msg.Variables)
	case hieratika.KindSchedule:
		return fmt.Sprintf("📝 Schedule %s: %s", msg.Schedule(), formatValues(msg.Variables))
	default:
		return "🏭 Plant: " + formatValues(msg.Variables)
	}
}

func formatTransformation(msg *hieratika.Message) string {
	uid := ""
	if msg.TransformationUID != nil {
		uid = *msg.TransformationUID
	}
	state := hieratika.TransformationRunning
	if msg.State != nil {
		state = *msg.State
	}
	switch state {
	case hieratika.TransformationCompleted:
		return fmt.Sprintf("Transformation %s completed: %s", uid, formatValues(msg.Outputs))
	case hieratika.TransformationError:
		return fmt.Sprintf("Transformation %s failed", uid)
	}
	return fmt.Sprintf("Transformation %s running (%.0f%%)", uid, msg.Progress*100)
}

// formatValues renders name=value pairs sorted by name.
func formatValues(values hieratika.Values) string {
	if len(values) == 0 {
		return "-"
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + formatValue(values[name])
	}
	return strings.Join(parts, ", ")
}

// formatValue truncates long values to 40 characters for line display.
func formatValue(v any) string {
	s := fmt.Sprint(v)
	if data, err := json.Marshal(v); err == nil {
		s = string(data)
	}
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

// formatToken shows only the first 8 characters of a session token.
func formatToken(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}
