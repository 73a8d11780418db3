package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// spinnerFrames is the braille animation shown while work is in flight.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is a single-line progress indicator for batch renders. It counts
// finished items against a total and stops on its own when ctx is
// cancelled.
type Spinner struct {
	label  string
	total  int
	done   atomic.Int64
	out    io.Writer
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	quit     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex
	width    int
}

// newSpinner creates a spinner writing to stderr. A total of zero hides
// the counter.
func newSpinner(ctx context.Context, label string, total int) *Spinner {
	return newSpinnerTo(ctx, os.Stderr, label, total)
}

func newSpinnerTo(ctx context.Context, w io.Writer, label string, total int) *Spinner {
	sctx, cancel := context.WithCancel(ctx)
	return &Spinner{
		label:   label,
		total:   total,
		out:     w,
		ctx:     sctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i++ {
			select {
			case <-s.ctx.Done():
				s.clearLine()
				return
			case <-s.quit:
				return
			case <-ticker.C:
				s.draw(spinnerFrames[i%len(spinnerFrames)])
			}
		}
	}()
}

// Advance records one finished item. It is safe for concurrent use.
func (s *Spinner) Advance() {
	s.done.Add(1)
}

// Done reports how many items have finished.
func (s *Spinner) Done() int {
	return int(s.done.Load())
}

// message is the text drawn after the frame.
func (s *Spinner) message() string {
	if s.total <= 0 {
		return s.label
	}
	return fmt.Sprintf("%s %d/%d", s.label, s.Done(), s.total)
}

func (s *Spinner) draw(frame string) {
	msg := s.message()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = max(s.width, len(msg)+2)
	fmt.Fprintf(s.out, "\r%s %s", styleIconSpinner.Render(frame), StyleDim.Render(msg))
}

// Stop halts the animation and clears the line. Calling it more than once
// is harmless.
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		<-s.stopped
		s.cancel()
		s.clearLine()
	})
}

func (s *Spinner) clearLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width == 0 {
		return
	}
	fmt.Fprintf(s.out, "\r%s\r", strings.Repeat(" ", s.width))
	s.width = 0
}

// Cancelled reports whether the spinner stopped because its context ended.
func (s *Spinner) Cancelled() bool {
	select {
	case <-s.quit:
		return false
	default:
		return s.ctx.Err() != nil
	}
}
