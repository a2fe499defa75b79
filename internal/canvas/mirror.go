package canvas

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultMirrorPath is where external readers expect the composite.
const DefaultMirrorPath = "/tmp/VideoMapper.videoFrame"

// Mirror publishes canvas snapshots to an external consumer. TryPublish
// never blocks: it reports false when the consumer holds the mirror.
type Mirror interface {
	TryPublish(pix []uint32) bool
	Close() error
}

// FileMirror is a shared memory-mapped file of width*height packed pixels
// guarded by an advisory flock.
type FileMirror struct {
	path  string
	f     *os.File
	data  []byte
	order binary.ByteOrder
}

// OpenMirror creates (or reuses) the file at path, sizes it and maps it.
func OpenMirror(path string, width, height int, order binary.ByteOrder) (*FileMirror, error) {
	size := width * height * 4
	if size <= 0 {
		return nil, fmt.Errorf("canvas: invalid mirror size %dx%d", width, height)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("canvas: open mirror: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("canvas: size mirror: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("canvas: map mirror: %w", err)
	}

	slog.Info("canvas: mirror mapped", "path", path, "bytes", size)
	return &FileMirror{path: path, f: f, data: data, order: order}, nil
}

// TryPublish copies pix into the mapping if the file lock is free.
func (m *FileMirror) TryPublish(pix []uint32) bool {
	fd := int(m.f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	n := min(len(pix), len(m.data)/4)
	for i := 0; i < n; i++ {
		m.order.PutUint32(m.data[4*i:], pix[i])
	}
	return true
}

// Path returns the backing file path.
func (m *FileMirror) Path() string {
	return m.path
}

func (m *FileMirror) Close() error {
	err := unix.Munmap(m.data)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type noopMirror struct{}

func (noopMirror) TryPublish([]uint32) bool { return true }
func (noopMirror) Close() error             { return nil }

// NoopMirror discards every snapshot.
func NoopMirror() Mirror {
	return noopMirror{}
}
