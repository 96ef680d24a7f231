package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/hieratika/internal/dispatch"
	"github.com/dyluth/hieratika/internal/editor"
	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/internal/registry"
	"github.com/dyluth/hieratika/internal/watch"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var (
	watchOutputFormat string
	watchKinds        string
	watchVariables    string
	watchSchedule     string
	watchFromRelay    bool
	watchMetricsAddr  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the server push stream",
	Long: `Print push messages as they arrive: plant, schedule and live values,
transformation progress, stream resets and logouts.

Messages are read from the server event stream, or with --relay from the
Redis channel fed by "hieratika relay".

Output Formats:
  default - Human-readable output with timestamps and emojis
  jsonl   - Line-delimited JSON for programmatic processing

Examples:
  # Everything
  hieratika watch

  # Only values of schedule 42, as an editor of it would apply them
  hieratika watch --schedule 42 --kind schedule

  # Gains of the live and plant updates as JSON
  hieratika watch --kind live,plant --var 'GAIN*' --output=jsonl > gains.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	watchCmd.Flags().StringVar(&watchKinds, "kind", "", "Comma separated kinds: reset,transformation,logout,live,schedule,plant")
	watchCmd.Flags().StringVar(&watchVariables, "var", "", "Only variables matching this glob")
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "Drop schedule updates not about this schedule")
	watchCmd.Flags().BoolVar(&watchFromRelay, "relay", false, "Read from the Redis relay instead of the server")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func parseKinds(s string) ([]hieratika.Kind, error) {
	valid := map[hieratika.Kind]bool{
		hieratika.KindReset: true, hieratika.KindTransformation: true, hieratika.KindLogout: true,
		hieratika.KindLive: true, hieratika.KindSchedule: true, hieratika.KindPlant: true,
	}
	var kinds []hieratika.Kind
	for _, part := range strings.Split(s, ",") {
		k := hieratika.Kind(strings.TrimSpace(part))
		if k == "" {
			continue
		}
		if !valid[k] {
			return nil, fmt.Errorf("unknown message kind: %s", k)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}
	kinds, err := parseKinds(watchKinds)
	if err != nil {
		return printer.Error("invalid --kind", err.Error(), nil)
	}

	s, err := openSession(!watchFromRelay)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	var source editor.Source = hieratika.NewStream(s.client)
	if watchFromRelay {
		relay, err := connectRelay(ctx, s)
		if err != nil {
			return err
		}
		defer relay.Close()
		source = relay
	}

	sub, err := source.Subscribe(ctx)
	if err != nil {
		return printer.ServerError("subscribe to push messages", "", err)
	}
	defer sub.Close()

	opts := &watch.Options{
		Format: format,
		Filter: &watch.FilterCriteria{Kinds: kinds, VariableGlob: watchVariables},
	}
	if watchSchedule != "" {
		opts.Dispatcher = dispatch.New(registry.New(), logger)
		opts.Schedule = watchSchedule
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := watch.Stream(gctx, sub, opts, printer.Out, printer.Err)
		return err
	})
	if watchMetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, watchMetricsAddr, nil) })
	}
	if err := g.Wait(); err != nil {
		return printer.Error("watch failed", err.Error(), nil)
	}
	return nil
}

// connectRelay opens the configured Redis relay and checks it answers.
func connectRelay(ctx context.Context, s *session) (*hieratika.Relay, error) {
	opts, err := redis.ParseURL(s.cfg.Relay.RedisURL)
	if err != nil {
		return nil, printer.Error("invalid relay.redis_url", err.Error(), nil)
	}
	relay, err := hieratika.NewRelay(opts, s.cfg.Relay.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}
	if err := relay.Ping(ctx); err != nil {
		relay.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", s.cfg.Relay.RedisURL),
			map[string]string{"Instance": s.cfg.Relay.Instance},
			[]string{"Check relay.redis_url in hieratika.yml"},
		)
	}
	return relay, nil
}
