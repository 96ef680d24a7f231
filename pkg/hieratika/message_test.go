package hieratika

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKind(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Kind
	}{
		{"reset", `{"reset":true,"tid":"t1"}`, KindReset},
		{"reset wins over everything", `{"reset":true,"transformationUID":"x","live":true,"scheduleUID":"s"}`, KindReset},
		{"transformation", `{"transformationUID":"tr1","state":0,"progress":0.5}`, KindTransformation},
		{"transformation wins over logout", `{"transformationUID":"tr1","logout":"tok"}`, KindTransformation},
		{"logout", `{"logout":"tok"}`, KindLogout},
		{"logout wins over live", `{"logout":"tok","live":true}`, KindLogout},
		{"live", `{"live":true,"variables":{"A":1}}`, KindLive},
		{"live wins over schedule", `{"live":true,"scheduleUID":"s1"}`, KindLive},
		{"schedule", `{"scheduleUID":"s1","variables":{"A":1}}`, KindSchedule},
		{"empty schedule uid is still a schedule", `{"scheduleUID":"","variables":{}}`, KindSchedule},
		{"plant", `{"variables":{"A":1}}`, KindPlant},
		{"false reset still counts", `{"reset":false}`, KindReset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind())
		})
	}
}

func TestParseMessage(t *testing.T) {
	t.Run("keeps raw payload", func(t *testing.T) {
		payload := []byte(`{"scheduleUID":"s1","variables":{"A":[1,2]}}`)
		msg, err := ParseMessage(payload)
		require.NoError(t, err)

		payload[0] = 'X'
		raw, err := msg.Payload()
		require.NoError(t, err)
		assert.Equal(t, byte('{'), raw[0], "raw is a copy")
		assert.Equal(t, "s1", msg.Schedule())
	})

	t.Run("transformation fields", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"transformationUID":"tr1","state":1,"progress":1,"outputs":{"B":2}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.State)
		assert.Equal(t, TransformationCompleted, *msg.State)
		assert.Equal(t, 2.0, msg.Outputs["B"])
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := ParseMessage([]byte("nope"))
		assert.Error(t, err)
	})
}

func TestBuiltMessagesRoundTrip(t *testing.T) {
	for _, msg := range []*Message{
		NewResetMessage("t1"),
		NewLiveMessage(Values{"A": 1.0}),
		NewScheduleMessage("s1", Values{"A": 1.0}),
		NewPlantMessage(Values{"A": 1.0}),
	} {
		payload, err := msg.Payload()
		require.NoError(t, err)
		parsed, err := ParseMessage(payload)
		require.NoError(t, err)
		assert.Equal(t, msg.Kind(), parsed.Kind(), string(payload))
	}
}

func TestEventReader(t *testing.T) {
	body := strings.Join([]string{
		": comment",
		"data: {\"reset\":true}",
		"",
		"data: ",
		"",
		"event: update",
		"data: {\"variables\":",
		"data:{\"A\":1}}",
		"id: 7",
		"",
		"",
		"data: {\"live\":true}",
	}, "\n")

	r := newEventReader(strings.NewReader(body))

	first, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"reset":true}`, string(first))

	second, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "{\"variables\":\n{\"A\":1}}", string(second))

	// the stream ending flushes a pending event
	third, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"live":true}`, string(third))

	_, err = r.next()
	assert.Equal(t, io.EOF, err)
}
