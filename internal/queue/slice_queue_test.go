package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type job struct {
	name string
}

func TestSliceQueue(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewSliceQueue[*job](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())
		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)
		_, ok = q.Peek()
		assert.False(ok)
	})

	t.Run("FIFO order", func(t *testing.T) {
		q := NewSliceQueue[*job](1)
		j1, j2 := &job{"relay"}, &job{"pressure"}

		q.Enqueue(j1)
		q.Enqueue(j2)
		assert.Equal(2, q.Length())

		head, ok := q.Peek()
		assert.True(ok)
		assert.Same(j1, head)
		assert.Equal(2, q.Length())

		got, _ := q.Dequeue()
		assert.Same(j1, got)
		got, _ = q.Dequeue()
		assert.Same(j2, got)
		assert.True(q.IsEmpty())
	})

	t.Run("Interleaved", func(t *testing.T) {
		q := NewSliceQueue[int](4)
		next := 0
		for i := 0; i < 1000; i++ {
			q.Enqueue(i)
			if i%3 == 0 {
				v, ok := q.Dequeue()
				assert.True(ok)
				assert.Equal(next, v)
				next++
			}
		}
		for !q.IsEmpty() {
			v, _ := q.Dequeue()
			assert.Equal(next, v)
			next++
		}
		assert.Equal(1000, next)
	})

	t.Run("Reset", func(t *testing.T) {
		q := NewSliceQueue[string](2)
		q.Enqueue("a")
		q.Enqueue("b")
		q.Reset()
		assert.True(q.IsEmpty())
		q.Enqueue("c")
		v, _ := q.Dequeue()
		assert.Equal("c", v)
	})
}
