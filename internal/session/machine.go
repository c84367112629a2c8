package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coderelay/internal/classify"
	"coderelay/internal/metrics"
	"coderelay/internal/protocol"
	"coderelay/internal/sandbox"
)

var (
	ErrAlreadyRunning  = errors.New("a program is already running")
	ErrNoActiveProcess = errors.New("no running program")
	ErrTerminated      = errors.New("session terminated")
	ErrMaxSessions     = errors.New("maximum session limit reached")
	ErrNotFound        = errors.New("session not found")
	ErrInputBacklog    = errors.New("program is not reading input")
)

// Launcher starts sandbox processes.
type Launcher interface {
	Launch(ctx context.Context, req sandbox.Request) (sandbox.Process, error)
}

// Sender delivers messages to a session's client. Send may block while the
// client is slow and must return an error once the client is gone. It is
// called from several goroutines.
type Sender interface {
	Send(msg protocol.ServerMessage) error
}

// Options are shared by every session of a registry.
type Options struct {
	Launcher       Launcher
	Noise          *classify.NoiseFilter
	SuppressEcho   bool
	TranscriptSize int
	InputQueue     int // lines buffered per run before input is refused
	Cols           uint16
	Rows           uint16
	Metrics        *metrics.Collector
	Logger         zerolog.Logger
}

// Session is the server-side state of one client connection. It runs at
// most one sandbox process at a time.
//
// A second execute while a program is running is rejected with
// ErrAlreadyRunning; the running program is left untouched.
type Session struct {
	id         string
	createdAt  time.Time
	opts       *Options
	sender     Sender
	transcript *RingBuffer
	logger     zerolog.Logger

	runs   sync.WaitGroup
	closed chan struct{}

	mu         sync.Mutex
	state      State
	language   string
	proc       sandbox.Process
	classifier *classify.Classifier
	inputs     chan string
	pumpDone   chan struct{}
	runCount   int
	lastExit   *int
	lastActive time.Time
	cols, rows uint16
}

func newSession(id string, sender Sender, opts *Options) *Session {
	now := time.Now().UTC()
	return &Session{
		id:         id,
		createdAt:  now,
		opts:       opts,
		sender:     sender,
		transcript: NewRingBuffer(opts.TranscriptSize),
		logger:     opts.Logger.With().Str("session_id", id).Logger(),
		closed:     make(chan struct{}),
		state:      StateIdle,
		lastActive: now,
		cols:       opts.Cols,
		rows:       opts.Rows,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed is closed once the session is terminated and its last process
// has been reaped.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Handle dispatches one decoded client message. Failures are reported to the
// client before being returned.
func (s *Session) Handle(ctx context.Context, msg *protocol.ClientMessage) error {
	switch msg.Type {
	case protocol.TypeExecute:
		return s.Execute(ctx, msg.Language, msg.Code)
	case protocol.TypeInput:
		return s.Input(msg.Data)
	case protocol.TypeKill:
		return s.Kill()
	case protocol.TypeResize:
		return s.Resize(msg.Cols, msg.Rows)
	default:
		err := fmt.Errorf("%w: unknown message type: %s", protocol.ErrMalformed, msg.Type)
		s.reportError(err)
		return err
	}
}

// Execute validates the request and starts the program. Errors before the
// process exists leave the session idle.
func (s *Session) Execute(ctx context.Context, language, code string) error {
	if err := protocol.ValidateExecute(language, code); err != nil {
		s.reportError(err)
		return err
	}

	s.mu.Lock()
	// A finished run is still delivering its status; let it complete so
	// runs never interleave on the wire.
	if s.state == StateFinished && s.pumpDone != nil {
		done := s.pumpDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return ErrTerminated
	case s.state.running():
		s.mu.Unlock()
		err := fmt.Errorf("%w: send kill first", ErrAlreadyRunning)
		s.reportError(err)
		return err
	}
	s.state = StateExecuting
	s.language = language
	s.lastActive = time.Now().UTC()
	s.runs.Add(1)
	req := sandbox.Request{SessionID: s.id, Language: language, Source: code, Cols: s.cols, Rows: s.rows}
	s.mu.Unlock()

	proc, err := s.opts.Launcher.Launch(ctx, req)
	if err != nil {
		s.mu.Lock()
		if s.state != StateTerminated {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.runs.Done()
		s.logger.Warn().Err(err).Str("language", language).Msg("launch failed")
		s.reportError(err)
		return err
	}

	info := proc.Info()
	cl := classify.New(classify.Options{
		Noise:        s.opts.Noise,
		Policy:       classify.NewPolicy(info.Language.ID, info.Language.InputTokens),
		SuppressEcho: s.opts.SuppressEcho,
	})
	done := make(chan struct{})
	inputs := make(chan string, s.opts.InputQueue)

	s.mu.Lock()
	terminated := s.state == StateTerminated
	s.proc = proc
	s.classifier = cl
	s.inputs = inputs
	s.pumpDone = done
	s.language = info.Language.ID
	s.runCount++
	s.mu.Unlock()

	go s.writeInputs(proc, cl, inputs)
	go s.pump(proc, cl, done)
	if terminated {
		// Torn down while launching.
		_ = proc.Terminate()
		return ErrTerminated
	}
	s.logger.Info().Str("language", info.Language.ID).Str("container", info.Container).Msg("execution started")
	return nil
}

// pump feeds process output through the classifier to the client, then
// reports the exit. It is the only goroutine reading from proc.
func (s *Session) pump(proc sandbox.Process, cl *classify.Classifier, done chan struct{}) {
	defer s.runs.Done()
	defer close(done)

	lang := proc.Info().Language.ID
	for chunk := range proc.Output() {
		for _, ev := range cl.Classify(chunk) {
			s.opts.Metrics.Classified(ev.Kind.String())
			switch ev.Kind {
			case classify.ProgramOutput:
				if s.transition(StateExecuting) {
					s.deliver(protocol.NewOutput(ev.Text))
				}
			case classify.InputPrompt:
				s.opts.Metrics.PromptDetected(lang)
				if s.transition(StateAwaitingInput) {
					s.deliver(protocol.NewInputRequired(ev.Text))
				}
			}
		}
	}

	st := proc.Wait()
	ev := cl.Complete(st.Code, st.Abnormal)
	s.opts.Metrics.Classified(ev.Kind.String())

	s.mu.Lock()
	s.proc = nil
	s.classifier = nil
	s.inputs = nil
	code := ev.ExitCode
	s.lastExit = &code
	s.lastActive = time.Now().UTC()
	terminated := s.state == StateTerminated
	if !terminated {
		s.state = StateFinished
	}
	s.mu.Unlock()

	s.logger.Info().Int("exit_code", ev.ExitCode).Bool("abnormal", ev.Abnormal).Msg("execution finished")
	if terminated {
		return
	}
	s.deliver(protocol.NewFinished(ev.ExitCode, ev.Abnormal))

	s.mu.Lock()
	if s.state == StateFinished {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// transition moves a running session to next and reports whether the
// session still delivers events.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.running() {
		return false
	}
	s.state = next
	s.lastActive = time.Now().UTC()
	return true
}

// Input queues one line for the running program whether or not it is
// known to be waiting. A newline is appended. Input never blocks: when the
// program has stopped reading and the queue is full the line is refused
// with ErrInputBacklog.
func (s *Session) Input(data string) error {
	inputs, _, err := s.inputQueue()
	if err != nil {
		return err
	}
	select {
	case inputs <- data:
		return nil
	default:
		err := fmt.Errorf("%w: %d lines pending", ErrInputBacklog, cap(inputs))
		s.reportError(err)
		return err
	}
}

// feed queues one line, waiting for room until ctx ends or the program
// exits.
func (s *Session) feed(ctx context.Context, data string) error {
	inputs, proc, err := s.inputQueue()
	if err != nil {
		return err
	}
	select {
	case inputs <- data:
		return nil
	case <-proc.Done():
		return ErrNoActiveProcess
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) inputQueue() (chan<- string, sandbox.Process, error) {
	s.mu.Lock()
	state, proc, inputs := s.state, s.proc, s.inputs
	s.mu.Unlock()

	if state == StateTerminated {
		return nil, nil, ErrTerminated
	}
	if proc != nil {
		select {
		case <-proc.Done():
			proc = nil
		default:
		}
	}
	if proc == nil {
		s.reportError(ErrNoActiveProcess)
		return nil, nil, ErrNoActiveProcess
	}
	return inputs, proc, nil
}

// writeInputs writes queued lines to proc in order until it exits. A write
// may block for as long as the program leaves stdin unread.
func (s *Session) writeInputs(proc sandbox.Process, cl *classify.Classifier, inputs <-chan string) {
	for {
		select {
		case <-proc.Done():
			return
		case data := <-inputs:
			cl.ExpectEcho(data)
			_, err := proc.Write([]byte(data + "\n"))
			if err == nil {
				continue
			}
			if errors.Is(err, sandbox.ErrProcessExited) {
				s.logger.Debug().Msg("program exited with input pending")
				return
			}
			s.logger.Warn().Err(err).Msg("input write failed, terminating program")
			if s.State() != StateTerminated {
				s.reportError(fmt.Errorf("writing input: %w", err))
			}
			_ = proc.Terminate()
			return
		}
	}
}

// Kill terminates the running program. The session stays open and reports
// the exit as usual.
func (s *Session) Kill() error {
	s.mu.Lock()
	state, proc := s.state, s.proc
	s.mu.Unlock()

	if state == StateTerminated {
		return ErrTerminated
	}
	if proc == nil {
		s.reportError(ErrNoActiveProcess)
		return ErrNoActiveProcess
	}
	s.logger.Info().Msg("kill requested")
	return proc.Terminate()
}

// Resize sets the terminal size for the running program and later runs.
func (s *Session) Resize(cols, rows uint16) error {
	if err := protocol.ValidateResize(cols, rows); err != nil {
		s.reportError(err)
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	if err := proc.Resize(cols, rows); err != nil && !errors.Is(err, sandbox.ErrProcessExited) {
		s.logger.Debug().Err(err).Msg("resize failed")
	}
	return nil
}

// Terminate ends the session: the running program is terminated and no
// further messages are delivered. It is idempotent and does not block; use
// Closed to wait for the process to be reaped.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Terminate()
	}
	go func() {
		s.runs.Wait()
		close(s.closed)
	}()
	s.logger.Info().Msg("session terminated")
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.id,
		State:      s.state,
		Language:   s.language,
		Runs:       s.runCount,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
	if s.lastExit != nil {
		code := *s.lastExit
		snap.LastExit = &code
	}
	if s.proc != nil {
		info := s.proc.Info()
		snap.Container = info.Container
		snap.PID = info.PID
	}
	return snap
}

// Detail returns the snapshot with the recent transcript.
func (s *Session) Detail() Detail {
	return Detail{Snapshot: s.Snapshot(), Transcript: s.transcript.ReadAll()}
}

func (s *Session) deliver(msg protocol.ServerMessage) {
	s.transcript.Write(msg)
	if err := s.sender.Send(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("dropping message for closed client")
	}
}

func (s *Session) reportError(err error) {
	s.deliver(protocol.NewError(ErrorCode(err), err.Error()))
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrUnsupportedLanguage):
		return protocol.CodeUnsupportedLanguage
	case errors.Is(err, sandbox.ErrWorkspaceWrite):
		return protocol.CodeWorkspaceWrite
	case errors.Is(err, sandbox.ErrSpawn):
		return protocol.CodeSpawnFailed
	case errors.Is(err, ErrNoActiveProcess):
		return protocol.CodeNoActiveProcess
	case errors.Is(err, ErrInputBacklog):
		return protocol.CodeInputBacklog
	case errors.Is(err, ErrAlreadyRunning):
		return protocol.CodeAlreadyRunning
	case errors.Is(err, ErrMaxSessions):
		return protocol.CodeMaxSessions
	case errors.Is(err, ErrTerminated):
		return protocol.CodeSessionTerminated
	case errors.Is(err, ErrNotFound):
		return protocol.CodeSessionNotFound
	case errors.Is(err, protocol.ErrMalformed):
		return protocol.CodeInvalidMessage
	case errors.Is(err, protocol.ErrInvalidRequest):
		return protocol.CodeInvalidRequest
	default:
		return protocol.CodeInternal
	}
}
