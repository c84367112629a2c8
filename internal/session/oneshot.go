package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"coderelay/internal/protocol"
)

// collector is the Sender of a one-shot run.
type collector struct {
	mu       sync.Mutex
	output   strings.Builder
	exitCode int
	finished chan struct{}
	once     sync.Once
}

func newCollector() *collector {
	return &collector{finished: make(chan struct{})}
}

func (c *collector) Send(msg protocol.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case protocol.TypeOutput:
		c.output.WriteString(msg.Data)
	case protocol.TypeStatus:
		if msg.ExitCode != nil {
			c.exitCode = *msg.ExitCode
		}
		c.once.Do(func() { close(c.finished) })
	}
	return nil
}

func (c *collector) result() protocol.ExecuteResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.ExecuteResponse{Output: c.output.String(), ExitCode: c.exitCode}
}

// RunOnce executes code without a live connection. stdin is fed line by line
// right after launch, waiting while the program is slow to read it. The run is terminated when ctx ends; the output
// gathered so far is returned with the error.
func (r *Registry) RunOnce(ctx context.Context, language, code, stdin string) (protocol.ExecuteResponse, error) {
	c := newCollector()
	sess, err := r.Create(c)
	if err != nil {
		return protocol.ExecuteResponse{}, err
	}
	defer r.Remove(sess.ID())

	if err := sess.Execute(ctx, language, code); err != nil {
		return protocol.ExecuteResponse{}, err
	}

	if stdin != "" {
	feed:
		for _, line := range strings.Split(strings.TrimSuffix(stdin, "\n"), "\n") {
			switch err := sess.feed(ctx, line); {
			case err == nil:
			case errors.Is(err, ErrNoActiveProcess), ctx.Err() != nil:
				break feed // exited before reading everything, or out of time
			default:
				return c.result(), err
			}
		}
	}

	select {
	case <-c.finished:
		return c.result(), nil
	case <-ctx.Done():
		_ = sess.Kill()
		return c.result(), fmt.Errorf("execution stopped: %w", ctx.Err())
	}
}
