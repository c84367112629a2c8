package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coderelay/internal/language"
	"coderelay/internal/protocol"
	"coderelay/internal/sandbox"
)

type fakeProcess struct {
	info       sandbox.Info
	out        chan []byte
	done       chan struct{}
	writes     chan string
	exitOnce   sync.Once
	status     sandbox.ExitStatus
	writeErr   error
	terminates atomic.Int32
}

func newFakeProcess(info sandbox.Info) *fakeProcess {
	return &fakeProcess{
		info:   info,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
		writes: make(chan string, 64),
	}
}

func (p *fakeProcess) Info() sandbox.Info { return p.info }

func (p *fakeProcess) Output() <-chan []byte { return p.out }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Resize(cols, rows uint16) error { return nil }

func (p *fakeProcess) emit(s string) { p.out <- []byte(s) }

func (p *fakeProcess) exit(code int, abnormal bool) {
	p.exitOnce.Do(func() {
		p.status = sandbox.ExitStatus{Code: code, Abnormal: abnormal}
		close(p.out)
		close(p.done)
	})
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, sandbox.ErrProcessExited
	default:
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	select {
	case p.writes <- string(b):
		return len(b), nil
	case <-p.done:
		return 0, sandbox.ErrProcessExited
	}
}

func (p *fakeProcess) Terminate() error {
	p.terminates.Add(1)
	p.exit(137, true)
	return nil
}

func (p *fakeProcess) Wait() sandbox.ExitStatus {
	<-p.done
	return p.status
}

func (p *fakeProcess) nextWrite(t *testing.T) string {
	t.Helper()
	select {
	case w := <-p.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for input")
		return ""
	}
}

// fakeLauncher resolves languages like the real launcher and counts how many
// processes each session has alive at once.
type fakeLauncher struct {
	langs    *language.Registry
	script   func(p *fakeProcess)
	err      error
	launched chan *fakeProcess

	mu       sync.Mutex
	live     map[string]int
	maxLive  int
	launches int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		langs:    language.NewRegistry(),
		launched: make(chan *fakeProcess, 16),
		live:     make(map[string]int),
	}
}

func (l *fakeLauncher) Launch(_ context.Context, req sandbox.Request) (sandbox.Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	spec, ok := l.langs.Lookup(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", sandbox.ErrUnsupportedLanguage, req.Language)
	}

	l.mu.Lock()
	l.launches++
	n := l.launches
	l.live[req.SessionID]++
	if l.live[req.SessionID] > l.maxLive {
		l.maxLive = l.live[req.SessionID]
	}
	l.mu.Unlock()

	p := newFakeProcess(sandbox.Info{
		SessionID: req.SessionID,
		Language:  spec,
		Container: fmt.Sprintf("fake-%s-%d", req.SessionID, n),
		PID:       1000 + n,
		StartedAt: time.Now(),
	})
	go func() {
		<-p.done
		l.mu.Lock()
		l.live[req.SessionID]--
		l.mu.Unlock()
	}()
	if l.script != nil {
		go l.script(p)
	}
	l.launched <- p
	return p, nil
}

func (l *fakeLauncher) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-l.launched:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for launch")
		return nil
	}
}

func (l *fakeLauncher) stats() (launches, maxLive int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches, l.maxLive
}

var errClientGone = errors.New("client gone")

type recordingSender struct {
	mu     sync.Mutex
	msgs   []protocol.ServerMessage
	ch     chan protocol.ServerMessage
	closed bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan protocol.ServerMessage, 256)}
}

func (s *recordingSender) Send(msg protocol.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClientGone
	}
	s.msgs = append(s.msgs, msg)
	s.ch <- msg
	return nil
}

func (s *recordingSender) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSender) next(t *testing.T) protocol.ServerMessage {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.ServerMessage{}
	}
}

func (s *recordingSender) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case m := <-s.ch:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(within):
	}
}

func newTestRegistry(l Launcher) *Registry {
	return NewRegistry(10, Options{
		Launcher:     l,
		SuppressEcho: true,
		Logger:       zerolog.Nop(),
	})
}
