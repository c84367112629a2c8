package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"coderelay/internal/language"
	"coderelay/internal/metrics"
	"coderelay/internal/workspace"
)

// Launcher stages sources and starts container runs under a PTY.
type Launcher struct {
	cfg       Config
	languages *language.Registry
	workspace *workspace.Manager
	reaper    Reaper
	metrics   *metrics.Collector
	logger    zerolog.Logger
	runs      atomic.Uint64
}

// NewLauncher creates a launcher. reaper and m may be nil.
func NewLauncher(cfg Config, languages *language.Registry, ws *workspace.Manager, reaper Reaper, m *metrics.Collector, logger zerolog.Logger) *Launcher {
	if cfg.LaunchMode == "" {
		cfg.LaunchMode = ModeDirect
	}
	if cfg.Shell == "" {
		cfg.Shell = "bash"
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = 5 * time.Second
	}
	return &Launcher{
		cfg:       cfg,
		languages: languages,
		workspace: ws,
		reaper:    reaper,
		metrics:   m,
		logger:    logger.With().Str("component", "sandbox").Logger(),
	}
}

// Launch starts req. The language is resolved before anything touches the
// filesystem; the workspace is released when the process exits or when the
// spawn fails.
func (l *Launcher) Launch(ctx context.Context, req Request) (Process, error) {
	spec, err := l.languages.Get(req.Language)
	if err != nil {
		l.metrics.LaunchFailed("unsupported_language")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	dir, err := l.workspace.Stage(req.SessionID, spec.SourceFile(), req.Source)
	if err != nil {
		_ = l.workspace.Release(req.SessionID)
		l.metrics.LaunchFailed("workspace")
		return nil, fmt.Errorf("%w: %w", ErrWorkspaceWrite, err)
	}

	name := ContainerName(req.SessionID, l.runs.Add(1))
	argv := BuildCommand(l.cfg, spec, dir, name)

	var cmd *exec.Cmd
	if l.cfg.LaunchMode == ModeShell {
		cmd = exec.Command(l.cfg.Shell)
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}
	cmd.Env = append(os.Environ(), "TERM=xterm")

	size := &pty.Winsize{Cols: orDefault(req.Cols, l.cfg.Cols, 80), Rows: orDefault(req.Rows, l.cfg.Rows, 30)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		_ = l.workspace.Release(req.SessionID)
		l.metrics.LaunchFailed("spawn")
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	if l.cfg.LaunchMode == ModeShell {
		if _, err := ptmx.Write([]byte(ShellLine(argv))); err != nil {
			killGroup(cmd.Process)
			_ = cmd.Wait()
			_ = ptmx.Close()
			_ = l.workspace.Release(req.SessionID)
			l.metrics.LaunchFailed("spawn")
			return nil, fmt.Errorf("%w: typing command: %w", ErrSpawn, err)
		}
	}

	info := Info{
		SessionID: req.SessionID,
		Language:  spec,
		Container: name,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	logger := l.logger.With().
		Str("session_id", req.SessionID).
		Str("language", spec.ID).
		Str("container", name).
		Int("pid", info.PID).
		Logger()

	p := newPTYProcess(info, cmd, ptmx, l.cfg.TerminateGrace, l.reaper, logger)
	l.metrics.ProcessStarted()
	p.onExit = func(st ExitStatus) {
		if err := l.workspace.Release(req.SessionID); err != nil {
			logger.Warn().Err(err).Msg("releasing workspace")
		}
		l.metrics.ProcessFinished(spec.ID, outcome(st, p.terminated.Load()), time.Since(info.StartedAt))
	}
	p.start()

	logger.Info().Str("mode", l.cfg.LaunchMode).Msg("sandbox started")
	return p, nil
}

func outcome(st ExitStatus, terminated bool) string {
	switch {
	case terminated:
		return "killed"
	case st.Code == 0 && !st.Abnormal:
		return "ok"
	default:
		return "error"
	}
}

func orDefault(v, fallback, last uint16) uint16 {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return last
}

// IsLaunchError reports whether err came from Launch before a process
// existed.
func IsLaunchError(err error) bool {
	return errors.Is(err, ErrUnsupportedLanguage) || errors.Is(err, ErrWorkspaceWrite) || errors.Is(err, ErrSpawn)
}
