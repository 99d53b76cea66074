package gateway

import (
	"fmt"
	"sync/atomic"
)

// RelayChannels is the number of relay outputs.
const RelayChannels = 4

const relayMask = 1<<RelayChannels - 1

// RelayBank is the desired relay output state, one bit per channel (bit 0 = relay 1).
//
// Any goroutine may write it; the cyclic loop commits the current mask to the process image once per
// iteration. The zero value has all relays de-energized.
type RelayBank struct {
	mask atomic.Uint32
}

// ValidRelay reports whether ch names a relay output.
func ValidRelay(ch int) bool {
	return ch >= 1 && ch <= RelayChannels
}

func validRelay(ch int) error {
	if !ValidRelay(ch) {
		return fmt.Errorf("%w: relay %d, want 1-%d", ErrInvalidChannel, ch, RelayChannels)
	}
	return nil
}

// Set energizes (on=true) or de-energizes relay ch. Setting the current state is a no-op.
func (b *RelayBank) Set(ch int, on bool) error {
	if err := validRelay(ch); err != nil {
		return err
	}
	bit := uint32(1) << (ch - 1)
	for {
		old := b.mask.Load()
		next := old &^ bit
		if on {
			next = old | bit
		}
		if next == old || b.mask.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Toggle flips relay ch and returns its new state.
func (b *RelayBank) Toggle(ch int) (bool, error) {
	if err := validRelay(ch); err != nil {
		return false, err
	}
	bit := uint32(1) << (ch - 1)
	for {
		old := b.mask.Load()
		if b.mask.CompareAndSwap(old, old^bit) {
			return old&bit == 0, nil
		}
	}
}

// SetAll energizes or de-energizes all relays at once.
func (b *RelayBank) SetAll(on bool) {
	if on {
		b.mask.Store(relayMask)
		return
	}
	b.mask.Store(0)
}

// State reports whether relay ch is energized. Invalid channels report false.
func (b *RelayBank) State(ch int) bool {
	if validRelay(ch) != nil {
		return false
	}
	return b.mask.Load()&(1<<(ch-1)) != 0
}

// States returns the state of all relays, index 0 = relay 1.
func (b *RelayBank) States() [RelayChannels]bool {
	var out [RelayChannels]bool
	m := b.mask.Load()
	for i := range out {
		out[i] = m&(1<<i) != 0
	}
	return out
}

// Mask returns the raw bitmask.
func (b *RelayBank) Mask() uint8 {
	return uint8(b.mask.Load() & relayMask)
}
