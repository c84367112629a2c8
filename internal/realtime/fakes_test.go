package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"coderelay/internal/language"
	"coderelay/internal/sandbox"
)

type fakeProcess struct {
	info   sandbox.Info
	out    chan []byte
	done   chan struct{}
	writes chan string
	status sandbox.ExitStatus

	mu     sync.Mutex
	exited bool
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

// emit is a no-op once the process has exited.
func (p *fakeProcess) emit(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		p.out <- []byte(s)
	}
}

func (p *fakeProcess) exit(code int, abnormal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.status = sandbox.ExitStatus{Code: code, Abnormal: abnormal}
	close(p.done)
	close(p.out)
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, sandbox.ErrProcessExited
	default:
	}
	select {
	case p.writes <- string(b):
		return len(b), nil
	case <-p.done:
		return 0, sandbox.ErrProcessExited
	}
}

func (p *fakeProcess) Terminate() error {
	p.exit(137, true)
	return nil
}

func (p *fakeProcess) Wait() sandbox.ExitStatus {
	<-p.done
	return p.status
}

// readLine waits for the next input line, or returns false once the process
// has exited.
func (p *fakeProcess) readLine() (string, bool) {
	select {
	case w := <-p.writes:
		return w, true
	case <-p.done:
		return "", false
	}
}

// program is the behavior of a fake run, selected by its source code.
type program func(p *fakeProcess)

// fakeLauncher resolves languages like the real launcher and runs the
// program registered for the submitted source.
type fakeLauncher struct {
	langs    *language.Registry
	programs map[string]program
	launched chan *fakeProcess

	mu sync.Mutex
	n  int
}

func newFakeLauncher(programs map[string]program) *fakeLauncher {
	return &fakeLauncher{
		langs:    language.NewRegistry(),
		programs: programs,
		launched: make(chan *fakeProcess, 16),
	}
}

func (l *fakeLauncher) Launch(_ context.Context, req sandbox.Request) (sandbox.Process, error) {
	spec, ok := l.langs.Lookup(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", sandbox.ErrUnsupportedLanguage, req.Language)
	}

	l.mu.Lock()
	l.n++
	n := l.n
	l.mu.Unlock()

	p := newFakeProcess(sandbox.Info{
		SessionID: req.SessionID,
		Language:  spec,
		Container: fmt.Sprintf("fake-%d", n),
		PID:       2000 + n,
		StartedAt: time.Now(),
	})
	run, ok := l.programs[req.Source]
	if !ok {
		run = func(p *fakeProcess) { p.exit(0, false) }
	}
	go run(p)

	select {
	case l.launched <- p:
	default:
	}
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

// testPrograms are the sources the fake launcher understands.
var testPrograms = map[string]program{
	"print('hi')": func(p *fakeProcess) {
		p.emit("hi\n")
		p.exit(0, false)
	},
	"greet": func(p *fakeProcess) {
		p.emit("Enter your name: ")
		name, ok := p.readLine()
		if !ok {
			return
		}
		p.emit(name) // terminal echo
		p.emit(fmt.Sprintf("Hello, %s", name))
		p.exit(0, false)
	},
	"fail": func(p *fakeProcess) {
		p.emit("boom\n")
		p.exit(3, false)
	},
	"sum": func(p *fakeProcess) {
		a, ok := p.readLine()
		if !ok {
			return
		}
		b, ok := p.readLine()
		if !ok {
			return
		}
		p.emit("got " + a)
		p.emit("got " + b)
		p.exit(0, false)
	},
	"sleep": func(p *fakeProcess) {
		<-p.done
	},
}
