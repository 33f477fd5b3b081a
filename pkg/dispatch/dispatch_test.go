package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medremind/pkg/events"
	"medremind/pkg/notify"
	"medremind/pkg/reminders"
	"medremind/pkg/wake"
)

// fakeAnnouncer records spoken text; results are sent by the test.
type fakeAnnouncer struct {
	mu     sync.Mutex
	texts  []string
	result chan error
	ctxs   []context.Context
}

func newFakeAnnouncer() *fakeAnnouncer {
	return &fakeAnnouncer{result: make(chan error, 1)}
}

func (a *fakeAnnouncer) Say(ctx context.Context, text string) <-chan error {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.ctxs = append(a.ctxs, ctx)
	a.mu.Unlock()

	out := make(chan error, 1)
	go func() {
		defer close(out)
		select {
		case err := <-a.result:
			out <- err
		case <-ctx.Done():
			out <- ctx.Err()
		}
	}()
	return out
}

func (a *fakeAnnouncer) spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

type failingRenderer struct{}

func (failingRenderer) EnsureChannel(context.Context, notify.Channel) error { return nil }
func (failingRenderer) Render(context.Context, notify.Notification) error {
	return errors.New("renderer unavailable")
}

type panickingAnnouncer struct{}

func (panickingAnnouncer) Say(context.Context, string) <-chan error { panic("tts crashed") }

type fixture struct {
	clock    *clock.Mock
	locker   *wake.Locker
	tray     *notify.Tray
	hub      *events.Hub
	speaker  *fakeAnnouncer
	dispatch *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewMock(),
		speaker: newFakeAnnouncer(),
	}
	f.locker = wake.NewLocker(f.clock, zerolog.Nop())
	f.tray = notify.NewTray(f.clock, zerolog.Nop())
	f.hub = events.NewHub(zerolog.Nop())
	f.dispatch = New(Options{
		Wake:     f.locker,
		Notifier: f.tray,
		Speaker:  f.speaker,
		Events:   f.hub,
		Logger:   zerolog.Nop(),
	})
	return f
}

var aspirin = reminders.Fired{ID: 7, MedicineName: "Aspirin", Dosage: "100mg", Instructions: "Take with food"}

func waitDone(t *testing.T, r *Report) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatch did not finish")
	}
}

func TestDispatchEndToEnd(t *testing.T) {
	f := newFixture(t)
	listener, detach := f.hub.Attach(1)
	defer detach()

	report := f.dispatch.Dispatch(context.Background(), aspirin)
	require.NoError(t, report.NotifyErr)
	assert.True(t, report.SpeechStarted)
	assert.Equal(t, 1, report.Listeners)

	n, ok := f.tray.Get(7)
	require.True(t, ok)
	assert.Contains(t, n.Body, "Aspirin - 100mg")
	assert.Contains(t, n.Body, "Take with food")
	assert.Equal(t, notify.PriorityMax, n.Priority)
	assert.Equal(t, notify.CategoryAlarm, n.Category)

	assert.Equal(t, []string{
		"Time to take your medicine. Aspirin, 100 milligrams. Take with food. Please take your medicine now.",
	}, f.speaker.spoken())

	assert.Equal(t, reminders.Event{Event: "alarm_fired", ID: 7}, <-listener)

	// The wake token is held until speech completes
	assert.Equal(t, 1, f.locker.Held())
	f.speaker.result <- nil
	waitDone(t, report)
	assert.NoError(t, report.SpeechErr())
	assert.Equal(t, 0, f.locker.Held())
}

func TestDispatchNoListener(t *testing.T) {
	f := newFixture(t)
	report := f.dispatch.Dispatch(context.Background(), aspirin)
	assert.Equal(t, 0, report.Listeners)
	assert.Equal(t, uint64(1), f.hub.Dropped())

	f.speaker.result <- nil
	waitDone(t, report)
}

func TestDispatchSpeechFailure(t *testing.T) {
	f := newFixture(t)
	report := f.dispatch.Dispatch(context.Background(), aspirin)

	f.speaker.result <- errors.New("tts error")
	waitDone(t, report)

	err := report.SpeechErr()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineFailure))
	assert.Equal(t, 0, f.locker.Held())

	// The notification is the fallback channel
	_, ok := f.tray.Get(7)
	assert.True(t, ok)
}

func TestDispatchWakeTimeoutStopsSpeech(t *testing.T) {
	f := newFixture(t)
	report := f.dispatch.Dispatch(context.Background(), aspirin)
	assert.Equal(t, 1, f.locker.Held())

	f.clock.Add(wake.DefaultTimeout)
	waitDone(t, report)

	assert.True(t, errors.Is(report.SpeechErr(), context.Canceled))
	assert.Equal(t, 0, f.locker.Held())
}

func TestDispatchNotificationFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	d := New(Options{
		Wake:     f.locker,
		Notifier: failingRenderer{},
		Speaker:  f.speaker,
		Events:   f.hub,
		Logger:   zerolog.Nop(),
	})
	listener, detach := f.hub.Attach(1)
	defer detach()

	report := d.Dispatch(context.Background(), aspirin)
	require.Error(t, report.NotifyErr)
	assert.True(t, errors.Is(report.NotifyErr, ErrEngineFailure))
	assert.True(t, report.SpeechStarted)
	assert.Equal(t, int64(7), (<-listener).ID)

	f.speaker.result <- nil
	waitDone(t, report)
}

func TestDispatchSpeechPanicReleasesToken(t *testing.T) {
	f := newFixture(t)
	d := New(Options{
		Wake:     f.locker,
		Notifier: f.tray,
		Speaker:  panickingAnnouncer{},
		Events:   f.hub,
		Logger:   zerolog.Nop(),
	})
	listener, detach := f.hub.Attach(1)
	defer detach()

	report := d.Dispatch(context.Background(), aspirin)
	assert.False(t, report.SpeechStarted)
	assert.Equal(t, 1, report.Listeners)
	assert.Equal(t, int64(7), (<-listener).ID)

	waitDone(t, report)
	assert.Equal(t, 0, f.locker.Held())
}

func TestDispatchWithoutInstructions(t *testing.T) {
	f := newFixture(t)
	report := f.dispatch.Dispatch(context.Background(), reminders.Fired{ID: 2, MedicineName: "Vitamin D", Dosage: "5mcg"})

	n, ok := f.tray.Get(2)
	require.True(t, ok)
	assert.Equal(t, "Vitamin D - 5mcg", n.Body)
	assert.Equal(t, []string{"Time to take your medicine. Vitamin D, 5 micrograms. Please take your medicine now."}, f.speaker.spoken())

	f.speaker.result <- nil
	waitDone(t, report)
}
