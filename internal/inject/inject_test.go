package inject

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/bnema/portal-input/internal/eis"
	"github.com/bnema/portal-input/internal/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects calls in order as short strings.
type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	r.calls = append(r.calls, call)
	for prefix, err := range r.fail {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return err
		}
	}
	return nil
}

// fakeEmitter records emission calls, prefixed with tag when set.
type fakeEmitter struct {
	*recorder
	tag    string
	serial uint32
}

func (f *fakeEmitter) log(format string, args ...any) error {
	if f.tag != "" {
		format = f.tag + ": " + format
	}
	return f.record(format, args...)
}

func (f *fakeEmitter) Begin() error { return f.log("begin") }
func (f *fakeEmitter) Commit(ts uint64) error {
	f.serial++
	return f.log("frame %d @%d", f.serial, ts)
}
func (f *fakeEmitter) End() error { return f.log("end") }
func (f *fakeEmitter) MotionAbsolute(x, y float32) error {
	return f.log("abs %.0f,%.0f", x, y)
}
func (f *fakeEmitter) MotionRelative(dx, dy float32) error {
	return f.log("rel %.0f,%.0f", dx, dy)
}
func (f *fakeEmitter) Button(code uint32, s eis.ButtonState) error {
	return f.log("button %d %s", code, s)
}
func (f *fakeEmitter) Key(code uint32, s eis.ButtonState) error {
	return f.log("key %d %s", code, s)
}

// fakeDevice is a device with the capabilities it exposes and binds.
type fakeDevice struct {
	dev  *eis.Device
	caps []eis.Capability
	em   *fakeEmitter
}

type fakeSession struct {
	*recorder
	now     uint64
	devices []*fakeDevice
	events  []eis.Event
	err     error
}

func (f *fakeSession) Timestamp() uint64 {
	f.now += 1000
	return f.now
}

// Dispatch hands out the queued events and forgets removed devices like
// the real session does.
func (f *fakeSession) Dispatch() ([]eis.Event, error) {
	events := f.events
	f.events = nil
	for _, ev := range events {
		if removed, ok := ev.(eis.DeviceRemoved); ok {
			f.devices = slices.DeleteFunc(f.devices, func(d *fakeDevice) bool { return d.dev == removed.Device })
		}
	}
	return events, f.err
}

func (f *fakeSession) Target(caps ...eis.Capability) (*eis.Device, error) {
	for _, d := range f.devices {
		if !slices.ContainsFunc(caps, func(c eis.Capability) bool { return !slices.Contains(d.caps, c) }) {
			return d.dev, nil
		}
	}
	return nil, fmt.Errorf("%w: no device with %v", eis.ErrCapabilityMissing, caps)
}

func (f *fakeSession) Emitter(dev *eis.Device) (emitter, error) {
	for _, d := range f.devices {
		if d.dev == dev {
			return d.em, nil
		}
	}
	return nil, errors.New("unknown device")
}

func (f *fakeSession) Devices() []*eis.Device {
	var out []*eis.Device
	for _, d := range f.devices {
		out = append(out, d.dev)
	}
	return out
}

func (f *fakeSession) Flush() error { return f.record("flush") }
func (f *fakeSession) Close() error { return f.record("close") }

func (f *fakeSession) add(rec *recorder, name, tag string, caps ...eis.Capability) *eis.Device {
	dev := &eis.Device{Name: name}
	f.devices = append(f.devices, &fakeDevice{dev: dev, caps: caps, em: &fakeEmitter{recorder: rec, tag: tag}})
	return dev
}

func newInjector(sess *fakeSession, rec *recorder) *EISInjector {
	return NewEIS(sess, Options{
		ClickDelay: 50 * time.Millisecond,
		Sleep:      func(d time.Duration) { _ = rec.record("sleep %s", d) },
	})
}

// newFakeEIS returns an injector over one device with every capability.
func newFakeEIS() (*EISInjector, *recorder, *fakeSession, *eis.Device) {
	rec := &recorder{fail: map[string]error{}}
	sess := &fakeSession{recorder: rec}
	dev := sess.add(rec, "virtual pointer", "",
		eis.CapPointer, eis.CapPointerAbsolute, eis.CapButton, eis.CapKeyboard)
	return newInjector(sess, rec), rec, sess, dev
}

func TestEISInjectorFrames(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(inj *EISInjector) error
		want []string
	}{
		{
			name: "absolute move",
			run:  func(inj *EISInjector) error { return inj.MoveAbsolute(ctx, 100, 200) },
			want: []string{"begin", "abs 100,200", "frame 1 @1000", "end", "flush"},
		},
		{
			name: "relative move",
			run:  func(inj *EISInjector) error { return inj.MoveRelative(ctx, -5, 3) },
			want: []string{"begin", "rel -5,3", "frame 1 @1000", "end", "flush"},
		},
		{
			name: "click",
			run:  func(inj *EISInjector) error { return inj.Click(ctx, eis.ButtonLeft) },
			want: []string{
				"begin",
				"button 272 press", "frame 1 @1000", "flush",
				"sleep 50ms",
				"button 272 release", "frame 2 @2000", "flush",
				"end", "flush",
			},
		},
		{
			name: "key",
			run:  func(inj *EISInjector) error { return inj.Key(ctx, 28) },
			want: []string{
				"begin",
				"key 28 press", "frame 1 @1000", "flush",
				"sleep 50ms",
				"key 28 release", "frame 2 @2000", "flush",
				"end", "flush",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inj, rec, _, _ := newFakeEIS()
			require.NoError(t, tt.run(inj))
			assert.Equal(t, tt.want, rec.calls)
		})
	}
}

func TestEISInjectorStageFailureClosesBracket(t *testing.T) {
	inj, rec, _, _ := newFakeEIS()
	boom := errors.New("capability missing")
	rec.fail["abs"] = boom

	err := inj.MoveAbsolute(context.Background(), 1, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"begin", "abs 1,1", "end"}, rec.calls)
}

func TestEISInjectorRegions(t *testing.T) {
	inj, rec, _, dev := newFakeEIS()
	dev.Regions = []eis.Region{{X: 0, Y: 0, Width: 1920, Height: 1080, Scale: 1}}

	require.NoError(t, inj.MoveAbsolute(context.Background(), 1919, 0))
	err := inj.MoveAbsolute(context.Background(), 1920, 0)
	assert.ErrorIs(t, err, ErrOutsideRegion)
	assert.Len(t, rec.calls, 5)
}

func TestEISInjectorPump(t *testing.T) {
	t.Run("lifecycle events are not errors", func(t *testing.T) {
		inj, _, sess, dev := newFakeEIS()
		sess.events = []eis.Event{eis.DevicePaused{Device: dev, Serial: 4}, eis.DeviceResumed{Device: dev, Serial: 5}}
		assert.NoError(t, inj.Pump())
	})

	t.Run("disconnect poisons the injector", func(t *testing.T) {
		inj, rec, sess, _ := newFakeEIS()
		sess.events = []eis.Event{eis.Disconnected{Reason: eis.DisconnectNormal, Explanation: "bye"}}

		err := inj.Pump()
		require.ErrorIs(t, err, eis.ErrDisconnected)
		assert.ErrorIs(t, inj.MoveRelative(context.Background(), 1, 0), eis.ErrDisconnected)
		assert.Empty(t, rec.calls)
	})

	t.Run("removed device leaves nothing to drive", func(t *testing.T) {
		inj, rec, sess, dev := newFakeEIS()
		sess.events = []eis.Event{eis.DeviceRemoved{Device: dev}}
		require.NoError(t, inj.Pump())
		assert.ErrorIs(t, inj.MoveAbsolute(context.Background(), 1, 1), eis.ErrCapabilityMissing)
		assert.Empty(t, rec.calls)
	})

	t.Run("other device removed", func(t *testing.T) {
		inj, _, sess, _ := newFakeEIS()
		sess.events = []eis.Event{eis.DeviceRemoved{Device: &eis.Device{Name: "keyboard"}}}
		assert.NoError(t, inj.Pump())
		assert.Len(t, inj.Devices(), 1)
	})

	t.Run("dispatch error", func(t *testing.T) {
		inj, _, sess, _ := newFakeEIS()
		sess.err = eis.ErrTooManyProtocolErrors
		assert.ErrorIs(t, inj.Pump(), eis.ErrTooManyProtocolErrors)
	})
}

// newSplitEIS models a compositor with separate relative pointer,
// keyboard and absolute pointer devices.
func newSplitEIS() (*EISInjector, *recorder, *fakeSession) {
	rec := &recorder{fail: map[string]error{}}
	sess := &fakeSession{recorder: rec}
	sess.add(rec, "rel", "pointer", eis.CapPointer, eis.CapButton)
	sess.add(rec, "kbd", "keyboard", eis.CapKeyboard)
	sess.add(rec, "abs", "tablet", eis.CapPointerAbsolute, eis.CapButton)
	return newInjector(sess, rec), rec, sess
}

func TestEISInjectorSplitDevices(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(inj *EISInjector) error
		want []string
	}{
		{
			name: "absolute move",
			run:  func(inj *EISInjector) error { return inj.MoveAbsolute(ctx, 100, 200) },
			want: []string{"tablet: begin", "tablet: abs 100,200", "tablet: frame 1 @1000", "tablet: end", "flush"},
		},
		{
			name: "relative move",
			run:  func(inj *EISInjector) error { return inj.MoveRelative(ctx, -5, 3) },
			want: []string{"pointer: begin", "pointer: rel -5,3", "pointer: frame 1 @1000", "pointer: end", "flush"},
		},
		{
			name: "key",
			run:  func(inj *EISInjector) error { return inj.Key(ctx, 28) },
			want: []string{
				"keyboard: begin",
				"keyboard: key 28 press", "keyboard: frame 1 @1000", "flush",
				"sleep 50ms",
				"keyboard: key 28 release", "keyboard: frame 2 @2000", "flush",
				"keyboard: end", "flush",
			},
		},
		{
			name: "click goes to the absolute pointer",
			run:  func(inj *EISInjector) error { return inj.Click(ctx, eis.ButtonLeft) },
			want: []string{
				"tablet: begin",
				"tablet: button 272 press", "tablet: frame 1 @1000", "flush",
				"sleep 50ms",
				"tablet: button 272 release", "tablet: frame 2 @2000", "flush",
				"tablet: end", "flush",
			},
		},
		{
			name: "shake",
			run: func(inj *EISInjector) error {
				return Shake(ctx, inj, ShakeOptions{Count: 1, Distance: 100, Sleep: func(time.Duration) {}})
			},
			want: []string{
				"pointer: begin", "pointer: rel 100,0", "pointer: frame 1 @1000", "pointer: end", "flush",
				"pointer: begin", "pointer: rel -100,0", "pointer: frame 2 @2000", "pointer: end", "flush",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inj, rec, _ := newSplitEIS()
			require.NoError(t, tt.run(inj))
			assert.Equal(t, tt.want, rec.calls)
		})
	}
}

func TestEISInjectorSplitDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	inj, rec, sess := newSplitEIS()
	tablet := sess.devices[2].dev
	kbd := sess.devices[1].dev

	sess.events = []eis.Event{
		eis.DevicePaused{Device: kbd, Serial: 4},
		eis.DeviceResumed{Device: kbd, Serial: 5},
		eis.DeviceRemoved{Device: tablet},
	}
	require.NoError(t, inj.Pump())
	assert.Len(t, inj.Devices(), 2)

	// Clicks fall back to the relative pointer once the tablet is gone.
	require.NoError(t, inj.Click(ctx, eis.ButtonRight))
	assert.Equal(t, "pointer: begin", rec.calls[0])
	assert.ErrorIs(t, inj.MoveAbsolute(ctx, 1, 1), eis.ErrCapabilityMissing)
	require.NoError(t, inj.Key(ctx, 30))
}

func TestEISInjectorRunStopsOnContext(t *testing.T) {
	inj, _, _, _ := newFakeEIS()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, inj.Run(ctx, time.Millisecond))
}

func TestEISInjectorClose(t *testing.T) {
	inj, rec, _, _ := newFakeEIS()
	require.NoError(t, inj.Close())
	require.NoError(t, inj.Close())
	assert.Equal(t, []string{"close"}, rec.calls)
	assert.ErrorIs(t, inj.Click(context.Background(), eis.ButtonLeft), ErrInjectorClosed)
	assert.ErrorIs(t, inj.Pump(), ErrInjectorClosed)
}

type fakeNotifier struct{ *recorder }

func (f *fakeNotifier) NotifyPointerMotion(_ context.Context, dx, dy float64) error {
	return f.record("motion %.0f,%.0f", dx, dy)
}
func (f *fakeNotifier) NotifyPointerMotionAbsolute(_ context.Context, stream uint32, x, y float64) error {
	return f.record("absolute %d %.0f,%.0f", stream, x, y)
}
func (f *fakeNotifier) NotifyPointerButton(_ context.Context, button int32, state uint32) error {
	return f.record("button %d %d", button, state)
}
func (f *fakeNotifier) NotifyKeyboardKeycode(_ context.Context, code int32, state uint32) error {
	return f.record("key %d %d", code, state)
}
func (f *fakeNotifier) Close() error { return f.record("close") }

func TestPortalInjector(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	inj := NewPortal(&fakeNotifier{rec}, 57, Options{Sleep: func(d time.Duration) { _ = rec.record("sleep %s", d) }})

	require.NoError(t, inj.MoveAbsolute(ctx, 10, 20))
	require.NoError(t, inj.MoveRelative(ctx, 100, 0))
	require.NoError(t, inj.Click(ctx, eis.ButtonRight))
	require.NoError(t, inj.Key(ctx, 57))
	require.NoError(t, inj.Close())

	assert.Equal(t, []string{
		"absolute 57 10,20",
		"motion 100,0",
		fmt.Sprintf("button 273 %d", portal.Pressed), "sleep 50ms", fmt.Sprintf("button 273 %d", portal.Released),
		"key 57 1", "sleep 50ms", "key 57 0",
		"close",
	}, rec.calls)

	assert.ErrorIs(t, inj.MoveRelative(ctx, 1, 1), ErrInjectorClosed)
	assert.NoError(t, inj.Close())
}

func TestShake(t *testing.T) {
	rec := &recorder{}
	inj := NewPortal(&fakeNotifier{rec}, 0, Options{})
	var steps []int

	err := Shake(context.Background(), inj, ShakeOptions{
		Count:    2,
		Distance: 100,
		Interval: 100 * time.Millisecond,
		Sleep:    func(d time.Duration) { _ = rec.record("sleep %s", d) },
		OnStep:   func(i int) { steps = append(steps, i) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, steps)
	assert.Equal(t, []string{
		"motion 100,0", "sleep 100ms", "motion -100,0", "sleep 100ms",
		"motion 100,0", "sleep 100ms", "motion -100,0", "sleep 100ms",
	}, rec.calls)
}

func TestShakeCancelled(t *testing.T) {
	rec := &recorder{}
	inj := NewPortal(&fakeNotifier{rec}, 0, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Shake(ctx, inj, ShakeOptions{Count: 3, Distance: 10, Sleep: func(time.Duration) {}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.calls)
}
