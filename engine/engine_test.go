package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeActuator models a cylinder whose pressure changes linearly while a valve relay is on.
type fakeActuator struct {
	mu        sync.Mutex
	relays    [5]bool
	onAt      time.Time
	base      float64
	rate      float64
	verifyErr error
	relayErr  error
	gateErr   error
	readErr   error
	history   []string
}

func (f *fakeActuator) VerifyOperation(string) error {
	return f.verifyErr
}

func (f *fakeActuator) SetRelay(ch int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.relayErr != nil {
		return f.relayErr
	}
	if f.gateErr != nil {
		return f.gateErr
	}
	f.setLocked(ch, on)

	return nil
}

func (f *fakeActuator) ReleaseRelay(ch int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setLocked(ch, false)

	return nil
}

func (f *fakeActuator) closeGate(err error) {
	f.mu.Lock()
	f.gateErr = err
	f.mu.Unlock()
}

func (f *fakeActuator) setLocked(ch int, on bool) {
	if on && !f.relays[ch] {
		f.onAt = time.Now()
	}
	if !on && f.relays[ch] {
		f.base = f.pressureLocked()
	}
	f.relays[ch] = on
	state := "off"
	if on {
		state = "on"
	}
	f.history = append(f.history, string(rune('0'+ch))+state)
}

func (f *fakeActuator) pressureLocked() float64 {
	dt := time.Since(f.onAt).Seconds()
	switch {
	case f.relays[1]:
		return f.base + f.rate*dt
	case f.relays[2]:
		return math.Max(f.base-f.rate*dt, 0)
	default:
		return f.base
	}
}

func (f *fakeActuator) ReadAllPressures() ([sensor.Channels]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out [sensor.Channels]float64
	if f.readErr != nil {
		return out, f.readErr
	}
	p := f.pressureLocked()
	for i := range out {
		out[i] = p
	}
	return out, nil
}

func (f *fakeActuator) relay(ch int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relays[ch]
}

func newEngine(act Actuator, opts ...Option) (*Engine, *eventlog.Journal) {
	j := eventlog.New(eventlog.WithLogger(logger.NewNop()))
	opts = append([]Option{WithJournal(j), WithSettle(20 * time.Millisecond), WithPoll(10 * time.Millisecond)}, opts...)
	return New(act, opts...), j
}

func TestEngine_SupportSuccess(t *testing.T) {
	assert := assert.New(t)

	act := &fakeActuator{rate: 100}
	e, j := newEngine(act)

	var progress atomic.Int32
	res := e.Run(context.Background(), Support, Params{
		Target:   22,
		Timeout:  2 * time.Second,
		Cycle:    4,
		Progress: func(Progress) { progress.Add(1) },
	})

	assert.Equal(Completed, res.Status)
	assert.True(res.Success)
	assert.Equal(4, res.Cycle)
	for _, p := range res.FinalPressures {
		assert.GreaterOrEqual(p, 22.0)
	}
	assert.Greater(res.Elapsed, 200*time.Millisecond)
	assert.Positive(progress.Load())
	assert.False(act.relay(1), "driving relay released")
	assert.Equal([]string{"2off", "1on", "1off"}, act.history)
	assert.Equal(Completed, e.Status())
	assert.False(e.Busy())

	last := j.Recent(1)[0]
	assert.Equal("SupportTest", last.Module)
	assert.Equal(4, last.Cycle)
}

func TestEngine_RetractSuccess(t *testing.T) {
	act := &fakeActuator{base: 30, rate: 200}
	e, _ := newEngine(act)

	res := e.Run(context.Background(), Retract, Params{Target: 1, Timeout: 2 * time.Second})
	assert.True(t, res.Success)
	for _, p := range res.FinalPressures {
		assert.Less(t, p, 1.0)
	}
	assert.Equal(t, []string{"1off", "2on", "2off"}, act.history)
}

func TestEngine_Timeout(t *testing.T) {
	assert := assert.New(t)

	act := &fakeActuator{base: 5}
	e, _ := newEngine(act)

	res := e.Run(context.Background(), Retract, Params{Target: 1, Timeout: 150 * time.Millisecond})
	assert.Equal(Completed, res.Status)
	assert.False(res.Success)
	assert.Contains(res.Message, "timeout")
	assert.GreaterOrEqual(res.Elapsed, 150*time.Millisecond)
	assert.Equal([sensor.Channels]float64{5, 5, 5, 5}, res.FinalPressures)
	assert.False(act.relay(2))
}

func TestEngine_Failures(t *testing.T) {
	t.Run("verify", func(t *testing.T) {
		act := &fakeActuator{verifyErr: errors.New("link down")}
		e, _ := newEngine(act)
		res := e.Run(context.Background(), Support, Params{Target: 22, Timeout: time.Second})
		assert.Equal(t, Failed, res.Status)
		assert.Contains(t, res.Message, "link down")
		assert.Empty(t, act.history)
	})

	t.Run("relay", func(t *testing.T) {
		act := &fakeActuator{relayErr: errors.New("refused")}
		e, _ := newEngine(act)
		res := e.Run(context.Background(), Support, Params{Target: 22, Timeout: time.Second})
		assert.Equal(t, Failed, res.Status)
		assert.Contains(t, res.Message, "release relay 2")
	})

	t.Run("read", func(t *testing.T) {
		act := &fakeActuator{readErr: errors.New("image unavailable")}
		e, _ := newEngine(act)
		res := e.Run(context.Background(), Support, Params{Target: 22, Timeout: time.Second})
		assert.Equal(t, Failed, res.Status)
		assert.False(t, act.relay(1))
	})

	t.Run("kind", func(t *testing.T) {
		e, _ := newEngine(&fakeActuator{})
		res := e.Run(context.Background(), Kind(9), Params{})
		assert.Equal(t, Failed, res.Status)
	})
}

func TestEngine_CancelLatency(t *testing.T) {
	assert := assert.New(t)

	act := &fakeActuator{}
	e, _ := newEngine(act, WithSettle(0), WithPoll(100*time.Millisecond))

	done := make(chan Result, 1)
	go func() {
		done <- e.Run(context.Background(), Support, Params{Target: 22, Timeout: 10 * time.Second})
	}()

	require.Eventually(t, func() bool { return act.relay(1) }, time.Second, time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	cancelled := time.Now()
	e.Cancel()

	select {
	case res := <-done:
		assert.LessOrEqual(time.Since(cancelled), 150*time.Millisecond)
		assert.Equal(Cancelled, res.Status)
		assert.False(res.Success)
		assert.False(act.relay(1))
		assert.Equal(Cancelled, e.Status())
	case <-time.After(time.Second):
		t.Fatal("test did not return after cancel")
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	act := &fakeActuator{}
	e, _ := newEngine(act)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	res := e.Run(ctx, Support, Params{Target: 22, Timeout: 10 * time.Second})
	assert.Equal(t, Cancelled, res.Status)
}

func TestEngine_Busy(t *testing.T) {
	act := &fakeActuator{}
	e, _ := newEngine(act)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(context.Background(), Support, Params{Target: 22, Timeout: 10 * time.Second})
	}()
	require.Eventually(t, e.Busy, time.Second, time.Millisecond)

	res := e.Run(context.Background(), Retract, Params{Target: 1, Timeout: time.Second})
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, ErrBusy.Error(), res.Message)

	e.Cancel()
	<-done
}

func TestEngine_Events(t *testing.T) {
	assert := assert.New(t)

	e, _ := newEngine(&fakeActuator{rate: 100})
	sub := e.Subscribe(256)
	defer e.Close()

	res := e.Run(context.Background(), Support, Params{Target: 5, Timeout: time.Second})
	require.True(t, res.Success)

	var types []EventType
	for len(sub.C()) > 0 {
		types = append(types, (<-sub.C()).Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(EventStarted, types[0])
	assert.Equal(EventFinished, types[len(types)-1])
	assert.Contains(types, EventProgress)
}

func TestKind(t *testing.T) {
	assert := assert.New(t)

	d, o := Support.Relays()
	assert.Equal([2]int{1, 2}, [2]int{d, o})
	d, o = Retract.Relays()
	assert.Equal([2]int{2, 1}, [2]int{d, o})
	assert.Equal("RetractTest", Retract.Module())
	assert.True(Support.reached([4]float64{22, 23, 22, 30}, 22))
	assert.False(Support.reached([4]float64{22, 21.9, 22, 30}, 22))
	assert.True(Retract.reached([4]float64{0.9, 0, 0.5, 0.99}, 1))
	assert.False(Retract.reached([4]float64{0.9, 1, 0.5, 0.99}, 1))
	assert.Contains(Result{Kind: Support, Status: Completed}.String(), "Support test Completed")
}

func TestEngine_ReleaseBypassesHealthGate(t *testing.T) {
	assert := assert.New(t)

	act := &fakeActuator{}
	e, _ := newEngine(act)

	res := e.Run(context.Background(), Support, Params{
		Target:  22,
		Timeout: 100 * time.Millisecond,
		Progress: func(Progress) {
			act.closeGate(errors.New("link down"))
		},
	})

	assert.Equal(Completed, res.Status)
	assert.False(res.Success)
	assert.False(act.relay(1), "driving relay released while the gate is closed")
	assert.Equal([]string{"2off", "1on", "1off"}, act.history)
}

func TestEngine_CancelReserved(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	act := &fakeActuator{}
	e, _ := newEngine(act)

	require.NoError(e.Reserve())
	assert.True(e.Busy())
	assert.ErrorIs(e.Reserve(), ErrBusy)
	e.Cancel()

	begin := time.Now()
	res := e.RunReserved(context.Background(), Support, Params{Target: 22, Timeout: 5 * time.Second})
	assert.Equal(Cancelled, res.Status)
	assert.Less(time.Since(begin), 100*time.Millisecond)
	assert.Empty(act.history, "no relay touched")
	assert.False(e.Busy())
}

func TestEngine_CancelDoesNotLeak(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	act := &fakeActuator{rate: 200}
	e, _ := newEngine(act)

	e.Cancel()
	res := e.Run(context.Background(), Support, Params{Target: 5, Timeout: time.Second})
	assert.True(res.Success, "cancel on an idle engine is ignored")

	require.NoError(e.Reserve())
	e.Cancel()
	e.Release()

	require.NoError(e.Reserve())
	res = e.RunReserved(context.Background(), Support, Params{Target: 10, Timeout: time.Second})
	assert.True(res.Success, "a cancel aimed at a released reservation does not reach the next one")
}

func TestEngine_RunReservedWithoutReserve(t *testing.T) {
	e, _ := newEngine(&fakeActuator{})

	res := e.RunReserved(context.Background(), Support, Params{Target: 5, Timeout: time.Second})
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, ErrNotReserved.Error(), res.Message)
}
