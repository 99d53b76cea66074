package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishSubscribe(t *testing.T) {
	assert := assert.New(t)

	bus := NewBus[int]()
	s1 := bus.Subscribe(4)
	s2 := bus.Subscribe(4)
	assert.Equal(2, bus.Subscribers())

	bus.Publish(1)
	bus.Publish(2)

	assert.Equal(1, <-s1.C())
	assert.Equal(2, <-s1.C())
	assert.Equal(1, <-s2.C())

	s1.Close()
	s1.Close()
	assert.Equal(1, bus.Subscribers())
	_, ok := <-s1.C()
	assert.False(ok)

	bus.Publish(3)
	assert.Equal(2, <-s2.C())
	assert.Equal(3, <-s2.C())
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	assert := assert.New(t)

	bus := NewBus[string]()
	s := bus.Subscribe(2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish("entry")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(uint64(8), s.Dropped())
	assert.Len(s.C(), 2)
}

func TestBus_Close(t *testing.T) {
	assert := assert.New(t)

	bus := NewBus[int]()
	s := bus.Subscribe(0)
	assert.Equal(DefaultBuffer, cap(s.C()))

	bus.Close()
	bus.Close()
	_, ok := <-s.C()
	assert.False(ok)
	assert.Zero(bus.Subscribers())

	late := bus.Subscribe(1)
	_, ok = <-late.C()
	assert.False(ok)
	bus.Publish(1)
}

func TestSubscription_Handle(t *testing.T) {
	assert := assert.New(t)

	bus := NewBus[int]()
	s := bus.Subscribe(16)

	var mu sync.Mutex
	var got []int
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Handle(ctx, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}
	assert.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	mu.Lock()
	assert.Equal([]int{0, 1, 2, 3, 4}, got)
	mu.Unlock()
}
