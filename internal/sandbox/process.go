package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
)

const (
	readBufferSize = 4096
	outputBacklog  = 64

	// drainTimeout bounds how long the output reader may outlive the process,
	// for grandchildren that keep the terminal open.
	drainTimeout = 2 * time.Second
	reapTimeout  = 10 * time.Second
)

type ptyProcess struct {
	info   Info
	cmd    *exec.Cmd
	ptmx   *os.File
	grace  time.Duration
	reaper Reaper
	logger zerolog.Logger
	onExit func(ExitStatus)

	out      chan []byte
	readDone chan struct{}
	done     chan struct{}
	status   ExitStatus

	writeMu    sync.Mutex
	termOnce   sync.Once
	terminated atomic.Bool
}

func newPTYProcess(info Info, cmd *exec.Cmd, ptmx *os.File, grace time.Duration, reaper Reaper, logger zerolog.Logger) *ptyProcess {
	return &ptyProcess{
		info:     info,
		cmd:      cmd,
		ptmx:     ptmx,
		grace:    grace,
		reaper:   reaper,
		logger:   logger,
		out:      make(chan []byte, outputBacklog),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *ptyProcess) start() {
	go p.readLoop()
	go p.waitLoop()
}

func (p *ptyProcess) Info() Info { return p.info }

func (p *ptyProcess) Output() <-chan []byte { return p.out }

func (p *ptyProcess) Done() <-chan struct{} { return p.done }

// readLoop forwards PTY output. Sends block when the consumer falls behind,
// which in turn blocks the program's writes to its terminal.
func (p *ptyProcess) readLoop() {
	defer close(p.readDone)
	defer close(p.out)

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.out <- data
		}
		if err != nil {
			return
		}
	}
}

func (p *ptyProcess) waitLoop() {
	_ = p.cmd.Wait()
	st := exitStatusOf(p.cmd.ProcessState)
	if p.terminated.Load() {
		st.Abnormal = true
	}

	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
		p.logger.Warn().Msg("terminal still open after exit, closing")
	}
	_ = p.ptmx.Close()
	<-p.readDone

	p.status = st
	if p.onExit != nil {
		p.onExit(st)
	}
	p.logger.Info().Int("exit_code", st.Code).Bool("abnormal", st.Abnormal).Msg("sandbox exited")
	close(p.done)
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrProcessExited
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	// A write blocked on a full terminal fails with EIO once the program's
	// side of the terminal is gone.
	n, err := p.ptmx.Write(b)
	if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) {
		return n, ErrProcessExited
	}
	return n, err
}

func (p *ptyProcess) Resize(cols, rows uint16) error {
	select {
	case <-p.done:
		return ErrProcessExited
	default:
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProcess) Terminate() error {
	p.termOnce.Do(func() {
		p.terminated.Store(true)
		go p.terminate()
	})
	return nil
}

// terminate signals the process group, removes the container through the
// engine and escalates to SIGKILL once the grace period is over.
func (p *ptyProcess) terminate() {
	select {
	case <-p.done:
		return
	default:
	}
	p.logger.Info().Msg("terminating sandbox")
	termGroup(p.cmd.Process)

	if p.reaper != nil {
		ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
		if err := p.reaper.RemoveContainer(ctx, p.info.Container); err != nil {
			p.logger.Warn().Err(err).Msg("removing container")
		}
		cancel()
	}

	select {
	case <-p.done:
	case <-time.After(p.grace):
		p.logger.Warn().Dur("grace", p.grace).Msg("sandbox ignored SIGTERM, killing")
		killGroup(p.cmd.Process)
	}
}

func (p *ptyProcess) Wait() ExitStatus {
	<-p.done
	return p.status
}

func exitStatusOf(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Abnormal: true}
	}
	if sig, ok := signaled(ps); ok {
		return ExitStatus{Code: 128 + sig, Abnormal: true}
	}
	return ExitStatus{Code: ps.ExitCode()}
}
