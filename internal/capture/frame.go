package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceClosed is returned by Next after Stop.
	ErrSourceClosed = errors.New("capture: source closed")
	// ErrEndOfStream is returned when the pipeline reaches EOS.
	ErrEndOfStream = errors.New("capture: end of stream")
	// ErrEmptyPipeline is returned for a camera with no pipeline description.
	ErrEmptyPipeline = errors.New("capture: empty pipeline description")
)

// Frame is one decoded image: Width*Height packed 32-bit pixels in the
// source's configured byte order.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	Source    string
	TraceID   string
}

// VideoSource delivers the most recent frame of one camera. Older frames
// are dropped when the consumer falls behind.
type VideoSource interface {
	Name() string
	Start(ctx context.Context) error
	// Next blocks until a frame is available, the source fails, or ctx is done.
	Next(ctx context.Context) (*Frame, error)
	Stop() error
}
