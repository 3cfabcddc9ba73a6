package docker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
)

// errStopped ends a demultiplexing copy when the frame handler declines more
// frames.
var errStopped = errors.New("log subscription stopped")

// =============================================================================
// Log Subscription
// =============================================================================

// subscription streams one container log reader until the handler declines
// more frames, the reader ends, or Close is called.
type subscription struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	done   chan struct{}
	once   sync.Once
}

// newSubscription starts streaming body on its own goroutine. multiplexed
// selects stdcopy framing; TTY containers produce a raw stream that is split
// into lines and attributed to stdout.
func newSubscription(ctx context.Context, body io.ReadCloser, multiplexed bool, spec LogSpec) *subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		cancel: cancel,
		body:   body,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		var err error
		if multiplexed {
			err = demux(body, spec)
		} else {
			err = splitLines(body, spec)
		}
		if errors.Is(err, errStopped) || ctx.Err() != nil {
			err = nil
		}
		s.release()
		if spec.OnClose != nil {
			spec.OnClose(err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.release()
		case <-s.done:
		}
	}()

	return s
}

func (s *subscription) release() {
	s.once.Do(func() {
		s.cancel()
		s.body.Close()
	})
}

// Close stops the stream and waits for the streaming goroutine to finish.
func (s *subscription) Close() error {
	s.release()
	<-s.done
	return nil
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

// =============================================================================
// Frame Decoding
// =============================================================================

// frameWriter receives one stdcopy frame per Write call.
type frameWriter struct {
	stream LogStream
	spec   *LogSpec
}

func (w *frameWriter) Write(p []byte) (int, error) {
	payload := make([]byte, len(p))
	copy(payload, p)
	if !w.spec.OnFrame(LogFrame{Stream: w.stream, Payload: payload}) {
		return 0, errStopped
	}
	return len(p), nil
}

func demux(r io.Reader, spec LogSpec) error {
	stdout := &frameWriter{stream: Stdout, spec: &spec}
	stderr := &frameWriter{stream: Stderr, spec: &spec}
	_, err := stdcopy.StdCopy(stdout, stderr, r)
	return err
}

func splitLines(r io.Reader, spec LogSpec) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if !spec.OnFrame(LogFrame{Stream: Stdout, Payload: line}) {
				return errStopped
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
