package editor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hieratika/internal/testutil"
	"github.com/dyluth/hieratika/internal/widget"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

type fixture struct {
	srv    *testutil.FakeServer
	client *hieratika.Client
	ed     *Editor
	gain   *widget.Widget
	offset *widget.Widget
}

// setupEditor starts a fake server holding one schedule (s1) with GAIN and
// OFFSET, and an editor with a configured widget bound to each.
func setupEditor(t *testing.T) *fixture {
	t.Helper()
	srv := testutil.SetupFakeServer(t)
	srv.Variables["GAIN"] = &hieratika.VariableInfo{
		Name:        "GAIN",
		Type:        "float64",
		Description: "loop gain",
		Validation:  []hieratika.Validation{{Fun: "checkMax", Parameters: []any{10.0}}},
	}
	srv.Variables["OFFSET"] = &hieratika.VariableInfo{Name: "OFFSET", Type: "int32", Permissions: []string{"admins"}}
	srv.Plant["GAIN"] = 1.0
	srv.Plant["OFFSET"] = 0.0
	srv.AddSchedule(hieratika.Schedule{UID: "s1", Name: "nightly", Owner: "operator", PageName: "demo"},
		hieratika.Values{"GAIN": 2.0, "OFFSET": 5.0})

	client, err := hieratika.NewClient(srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Login(context.Background(), "operator", "secret")
	require.NoError(t, err)

	f := &fixture{
		srv:    srv,
		client: client,
		ed:     New(client, "demo", &Options{SyncInterval: 10 * time.Millisecond}),
		gain:   widget.New("GAIN", widget.KindInput),
		offset: widget.New("OFFSET", widget.KindInput),
	}
	f.ed.Bind(f.gain, f.offset)
	require.NoError(t, f.ed.LoadVariablesInfo(context.Background()))
	return f
}

func TestLoadVariablesInfo(t *testing.T) {
	f := setupEditor(t)

	assert.Equal(t, "float64", f.gain.TypeName())
	assert.Equal(t, 1.0, f.gain.PlantValue())
	assert.True(t, f.gain.CanWrite())
	assert.False(t, f.offset.CanWrite(), "operator is not in admins")

	f.gain.SetText("11")
	assert.True(t, f.gain.Display().Error)
	assert.Equal(t, "Failed @ checkMax(GAIN, 10)", f.gain.Display().Title)
}

func TestLoadVariablesInfoMembers(t *testing.T) {
	f := setupEditor(t)
	f.srv.Variables["PID"] = &hieratika.VariableInfo{
		Name: "PID",
		Type: "struct",
		Members: map[string]*hieratika.VariableInfo{
			"P": {Name: "P", Type: "float32", Value: 0.5},
		},
	}
	member := widget.New("PID.P", widget.KindInput)
	f.ed.Bind(member, widget.New("PID", widget.KindInput))

	require.NoError(t, f.ed.LoadVariablesInfo(context.Background()))
	assert.Equal(t, "float32", member.TypeName())
	assert.Equal(t, 0.5, member.PlantValue())
}

func TestOpenSchedule(t *testing.T) {
	f := setupEditor(t)

	sched, err := f.ed.OpenSchedule(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "nightly", sched.Name)
	assert.Equal(t, "s1", f.ed.ScheduleUID())

	assert.Equal(t, 2.0, f.gain.Value())
	assert.Equal(t, 2.0, f.gain.InitialValue())
	assert.Equal(t, 5.0, f.offset.Value())
	assert.Empty(t, f.ed.Pending())

	_, err = f.ed.OpenSchedule(context.Background(), "missing")
	assert.ErrorIs(t, err, hieratika.ErrNotFound)
	assert.Equal(t, "s1", f.ed.ScheduleUID(), "a failed open keeps the current schedule")
}

func TestCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a schedule", func(t *testing.T) {
		f := setupEditor(t)
		assert.ErrorIs(t, f.ed.Commit(ctx), ErrNoSchedule)
	})

	t.Run("sends edits and resets initial values", func(t *testing.T) {
		f := setupEditor(t)
		_, err := f.ed.OpenSchedule(ctx, "s1")
		require.NoError(t, err)

		f.gain.SetText("3.5")
		assert.Equal(t, hieratika.ColorDiffInitChanged, f.gain.Display().Cells[0].Foreground)

		require.NoError(t, f.ed.Commit(ctx))

		calls := f.srv.Calls(hieratika.PathCommitSchedule)
		require.Len(t, calls, 1)
		assert.JSONEq(t, `{"GAIN":3.5}`, calls[0].Form.Get("variables"))
		assert.Equal(t, 3.5, f.srv.ScheduleValuesOf("s1")["GAIN"])
		assert.Equal(t, 3.5, f.gain.InitialValue())
		assert.Equal(t, hieratika.ColorStandardForeground, f.gain.Display().Cells[0].Foreground)
		assert.Empty(t, f.ed.Pending())
	})

	t.Run("in use keeps the pending set", func(t *testing.T) {
		f := setupEditor(t)
		_, err := f.ed.OpenSchedule(ctx, "s1")
		require.NoError(t, err)
		f.srv.InUse["s1"] = true

		f.gain.SetText("4")
		err = f.ed.Commit(ctx)
		assert.ErrorIs(t, err, hieratika.ErrInUse)
		assert.Equal(t, hieratika.Values{"GAIN": 4.0}, f.ed.Pending())
		assert.Equal(t, 2.0, f.gain.InitialValue())
	})
}

func TestCommitKeepsUncoercibleText(t *testing.T) {
	ctx := context.Background()
	f := setupEditor(t)
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)

	f.gain.SetText("NaN")
	f.offset.SetText("7")
	assert.True(t, f.gain.Display().Error)

	require.NoError(t, f.ed.Commit(ctx))
	stored := f.srv.ScheduleValuesOf("s1")
	assert.Equal(t, "NaN", stored["GAIN"])
	assert.Equal(t, 7.0, stored["OFFSET"])
}

func TestOpenScheduleKeepsLocks(t *testing.T) {
	ctx := context.Background()
	f := setupEditor(t)
	lock := widget.New("LOCK", widget.KindLockButton)
	f.ed.Bind(lock)
	lock.SetValue(widget.Locked, false)
	lock.Lock(f.gain)
	require.True(t, f.gain.ReadOnly())

	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, lock.Locked())
	assert.True(t, f.gain.ReadOnly(), "the schedule carries no LOCK value, the lock still holds")
	assert.False(t, f.offset.ReadOnly())

	lock.SetValue(widget.Unlocked, false)
	assert.False(t, f.gain.ReadOnly())
	_, err = f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, f.gain.ReadOnly())
}

func TestCloseScheduleDiscardsEdits(t *testing.T) {
	f := setupEditor(t)
	_, err := f.ed.OpenSchedule(context.Background(), "s1")
	require.NoError(t, err)
	f.gain.SetText("9")

	f.ed.CloseSchedule()
	assert.Empty(t, f.ed.ScheduleUID())
	assert.Empty(t, f.ed.Pending())
	assert.ErrorIs(t, f.ed.Commit(context.Background()), ErrNoSchedule)
}

func TestUpdatePlant(t *testing.T) {
	f := setupEditor(t)
	ctx := context.Background()
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)
	f.gain.SetText("6")

	require.NoError(t, f.ed.UpdatePlant(ctx))
	plant := f.srv.PlantValues()
	assert.Equal(t, 6.0, plant["GAIN"])
	assert.Equal(t, 5.0, plant["OFFSET"])
	assert.Equal(t, 6.0, f.gain.InitialValue())
}

func TestDisplayPlant(t *testing.T) {
	f := setupEditor(t)
	ctx := context.Background()
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, f.ed.DisplayPlant(ctx))
	assert.Empty(t, f.ed.ScheduleUID())
	assert.Equal(t, 1.0, f.gain.Value())
	assert.Equal(t, 1.0, f.gain.PlantValue())
	assert.True(t, f.gain.ReadOnly())

	_, err = f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, f.gain.ReadOnly())
}

func TestSetReference(t *testing.T) {
	f := setupEditor(t)
	ctx := context.Background()
	f.srv.AddSchedule(hieratika.Schedule{UID: "ref", Name: "ref", PageName: "demo"}, hieratika.Values{"GAIN": 2.0, "OFFSET": 1.0})
	require.NoError(t, f.ed.LoadVariablesInfo(ctx))
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, f.ed.SetReference(ctx, hieratika.ReferencePlant))
	assert.Equal(t, hieratika.ColorPlantOrRefChanged, f.gain.Display().Cells[0].Background, "2 differs from plant 1")

	require.NoError(t, f.ed.SetReference(ctx, "ref"))
	assert.Equal(t, "ref", f.gain.ReferenceMode())
	assert.NotEqual(t, hieratika.ColorPlantOrRefChanged, f.gain.Display().Cells[0].Background, "2 equals reference 2")
	assert.Equal(t, hieratika.ColorPlantOrRefChanged, f.offset.Display().Cells[0].Background, "5 differs from reference 1")

	require.NoError(t, f.ed.SetReference(ctx, hieratika.ReferenceNone))
	assert.NotEqual(t, hieratika.ColorPlantOrRefChanged, f.offset.Display().Cells[0].Background)

	assert.ErrorIs(t, f.ed.SetReference(ctx, "missing"), hieratika.ErrNotFound)
}

func TestApplyLibrary(t *testing.T) {
	f := setupEditor(t)
	ctx := context.Background()
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)

	lib, err := f.client.SaveLibrary(ctx, hieratika.SaveLibraryRequest{
		Type:      "gains",
		Name:      "aggressive",
		Username:  "operator",
		Variables: hieratika.Values{"GAIN": 8.0, "UNBOUND": 1.0},
	})
	require.NoError(t, err)

	n, err := f.ed.ApplyLibrary(ctx, lib.UID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 8.0, f.gain.Value())

	require.NoError(t, f.ed.Commit(ctx))
	assert.Equal(t, 8.0, f.srv.ScheduleValuesOf("s1")["GAIN"])
}

// startRun runs the editor loop on the fake server stream and waits for the
// reset message to be applied.
func startRun(t *testing.T, f *fixture) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.ed.Run(ctx, hieratika.NewStream(f.client)) }()

	require.Eventually(t, func() bool { return f.client.Tid() != "" }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-f.ed.stopped
	})
	return cancel, errc
}

func TestRunAppliesPushMessages(t *testing.T) {
	f := setupEditor(t)
	ctx := context.Background()
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)

	startRun(t, f)

	value := func(w *widget.Widget) any {
		var v any
		_ = f.ed.Do(ctx, func() error {
			v = w.Value()
			return nil
		})
		return v
	}

	f.srv.Broadcast(hieratika.NewScheduleMessage("other", hieratika.Values{"GAIN": 9.0}))
	f.srv.Broadcast(hieratika.NewScheduleMessage("s1", hieratika.Values{"OFFSET": 7.0}))
	assert.Eventually(t, func() bool { return value(f.offset) == 7.0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, value(f.gain), "updates of another schedule are dropped")

	f.srv.Broadcast(hieratika.NewLiveMessage(hieratika.Values{"GAIN": 4.0}))
	assert.Eventually(t, func() bool { return value(f.gain) == 4.0 }, 2*time.Second, 5*time.Millisecond)

	f.srv.Broadcast(hieratika.NewPlantMessage(hieratika.Values{"GAIN": 3.0}))
	assert.Eventually(t, func() bool {
		var plant any
		_ = f.ed.Do(ctx, func() error { plant = f.gain.PlantValue(); return nil })
		return plant == 3.0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4.0, value(f.gain))
}

func TestRunSynchronisesEdits(t *testing.T) {
	f := setupEditor(t)
	ctx := context.Background()
	_, err := f.ed.OpenSchedule(ctx, "s1")
	require.NoError(t, err)

	startRun(t, f)

	require.NoError(t, f.ed.Do(ctx, func() error {
		f.gain.SetText("5")
		return nil
	}))

	require.Eventually(t, func() bool {
		return len(f.srv.Calls(hieratika.PathUpdateSchedule)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	call := f.srv.Calls(hieratika.PathUpdateSchedule)[0]
	assert.Equal(t, "s1", call.Form.Get("scheduleUID"))
	assert.Equal(t, f.client.Tid(), call.Form.Get("tid"))
	assert.JSONEq(t, `{"GAIN":5}`, call.Form.Get("variables"))

	require.NoError(t, f.ed.Do(ctx, func() error { return f.ed.Commit(ctx) }))
	assert.Equal(t, 5.0, f.srv.ScheduleValuesOf("s1")["GAIN"])
}

func TestRunStops(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		f := setupEditor(t)
		cancel, done := startRun(t, f)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		err := f.ed.Do(context.Background(), func() error { return nil })
		assert.ErrorIs(t, err, ErrStopped)
	})

	t.Run("logged out by the server", func(t *testing.T) {
		f := setupEditor(t)
		_, done := startRun(t, f)

		f.srv.Broadcast(&hieratika.Message{Logout: "someone-else"})
		f.srv.Broadcast(&hieratika.Message{Logout: f.client.Token()})
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrLoggedOut)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop on logout")
		}
	})

	t.Run("runs only once", func(t *testing.T) {
		f := setupEditor(t)
		startRun(t, f)
		err := f.ed.Run(context.Background(), hieratika.NewStream(f.client))
		assert.Error(t, err)
	})

	t.Run("subscription failure", func(t *testing.T) {
		f := setupEditor(t)
		f.srv.InvalidateTokens()
		err := f.ed.Run(context.Background(), hieratika.NewStream(f.client))
		assert.True(t, errors.Is(err, hieratika.ErrInvalidToken))
	})
}

func TestDoBeforeRun(t *testing.T) {
	f := setupEditor(t)
	called := false
	require.NoError(t, f.ed.Do(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
