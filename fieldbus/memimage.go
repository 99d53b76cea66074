package fieldbus

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MemImage is a mutex guarded in-memory ProcessImage. Multi-byte values are little-endian, as on
// the wire.
type MemImage struct {
	mu  sync.RWMutex
	buf []byte
}

var _ ProcessImage = (*MemImage)(nil)

// NewMemImage allocates an image of size bytes.
func NewMemImage(size int) *MemImage {
	return &MemImage{buf: make([]byte, size)}
}

func (m *MemImage) check(offset, width int) error {
	if offset < 0 || offset+width > len(m.buf) {
		return fmt.Errorf("%w: offset %d width %d size %d", ErrOffsetOutOfRange, offset, width, len(m.buf))
	}
	return nil
}

func (m *MemImage) ReadU8(offset int) (uint8, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.buf[offset], nil
}

func (m *MemImage) WriteU8(offset int, v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.buf[offset] = v

	return nil
}

func (m *MemImage) ReadS16(offset int) (int16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(m.buf[offset:])), nil
}

func (m *MemImage) WriteS16(offset int, v int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.buf[offset:], uint16(v))

	return nil
}

func (m *MemImage) Size() int {
	return len(m.buf)
}

// Snapshot returns a copy of the whole image.
func (m *MemImage) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, len(m.buf))
	copy(out, m.buf)

	return out
}

// Load replaces the image content with src, truncated to the image size.
func (m *MemImage) Load(src []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.buf, src)
}

// CopyIn writes src into the image starting at offset.
func (m *MemImage) CopyIn(offset int, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(offset, len(src)); err != nil {
		return err
	}
	copy(m.buf[offset:], src)

	return nil
}

// CopyOut returns a copy of n bytes starting at offset.
func (m *MemImage) CopyOut(offset, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.buf[offset:])

	return out, nil
}
