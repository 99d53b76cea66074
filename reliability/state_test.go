package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicState_Transitions(t *testing.T) {
	assert := assert.New(t)

	var st AtomicState
	assert.True(st.IsIdle())
	assert.False(st.ToStopping())
	assert.False(st.ToIdle())

	assert.True(st.ToRunning())
	assert.False(st.ToRunning())
	assert.Equal("Running", st.String())

	assert.True(st.ToStopping())
	assert.False(st.ToFaulted())
	assert.True(st.ToIdle())

	assert.True(st.ToRunning())
	assert.True(st.ToFaulted())
	assert.False(st.ToStopping())
	assert.True(st.ToIdle())
	assert.Equal(Idle, st.Get())
}
