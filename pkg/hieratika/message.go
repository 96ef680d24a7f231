package hieratika

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a push message. Exactly one kind applies to each message.
type Kind string

const (
	// KindReset is the first message of every stream. It carries the tid the
	// client must send with its updates.
	KindReset Kind = "reset"

	// KindTransformation reports progress of a transformation started with
	// Client.Transform.
	KindTransformation Kind = "transformation"

	// KindLogout tells the stream owning a token that it was logged out.
	KindLogout Kind = "logout"

	// KindLive carries new values of live (monitored) variables.
	KindLive Kind = "live"

	// KindSchedule carries values changed in the schedule named by ScheduleUID.
	KindSchedule Kind = "schedule"

	// KindPlant carries values newly applied to the plant.
	KindPlant Kind = "plant"
)

// Transformation states.
const (
	TransformationError     = -1
	TransformationRunning   = 0
	TransformationCompleted = 1
)

// Message is one push message from the event stream.
// Presence of a field, not its value, decides the Kind, so the tag fields
// are pointers.
type Message struct {
	Variables         Values  `json:"variables,omitempty"`
	ScheduleUID       *string `json:"scheduleUID,omitempty"`
	Live              any     `json:"live,omitempty"`
	Reset             any     `json:"reset,omitempty"`
	Tid               string  `json:"tid,omitempty"`
	TransformationUID *string `json:"transformationUID,omitempty"`
	State             *int    `json:"state,omitempty"`
	Progress          float64 `json:"progress,omitempty"`
	Outputs           Values  `json:"outputs,omitempty"`
	Logout            string  `json:"logout,omitempty"`

	// Raw is the payload the message was decoded from.
	Raw []byte `json:"-"`
}

// ParseMessage decodes a push message payload.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode push message: %w", err)
	}
	msg.Raw = append([]byte(nil), data...)
	return &msg, nil
}

// Kind classifies the message. Precedence: reset, transformation, logout,
// live, schedule, plant.
func (m *Message) Kind() Kind {
	switch {
	case m.Reset != nil:
		return KindReset
	case m.TransformationUID != nil:
		return KindTransformation
	case m.Logout != "":
		return KindLogout
	case m.Live != nil:
		return KindLive
	case m.ScheduleUID != nil:
		return KindSchedule
	}
	return KindPlant
}

// Schedule returns the schedule UID the message is scoped to, or "".
func (m *Message) Schedule() string {
	if m.ScheduleUID == nil {
		return ""
	}
	return *m.ScheduleUID
}

// Payload returns the JSON the message travels as. Messages built in code
// (not parsed) are marshalled on demand.
func (m *Message) Payload() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push message: %w", err)
	}
	return b, nil
}

// NewScheduleMessage builds a schedule-scoped update.
func NewScheduleMessage(scheduleUID string, variables Values) *Message {
	return &Message{ScheduleUID: &scheduleUID, Variables: variables}
}

// NewLiveMessage builds a live variables update.
func NewLiveMessage(variables Values) *Message {
	return &Message{Live: true, Variables: variables}
}

// NewPlantMessage builds a plant update.
func NewPlantMessage(variables Values) *Message {
	return &Message{Variables: variables}
}

// NewResetMessage builds the message that opens a stream.
func NewResetMessage(tid string) *Message {
	return &Message{Reset: true, Tid: tid}
}
