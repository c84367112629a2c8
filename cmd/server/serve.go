package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coderelay/internal/classify"
	"coderelay/internal/config"
	"coderelay/internal/language"
	"coderelay/internal/limiter"
	"coderelay/internal/logging"
	"coderelay/internal/metrics"
	"coderelay/internal/realtime"
	"coderelay/internal/sandbox"
	"coderelay/internal/session"
	"coderelay/internal/watcher"
	"coderelay/internal/workspace"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket and REST server",
	RunE:  runServe,
}

func init() {
	// Registered on both root and serve so `coderelay --port` works too.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().IntVar(&servePort, "port", 0, "override HTTP listen port")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	logger := logging.New(cfg.Log)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	langs, err := loadLanguages(cfg, logger)
	if err != nil {
		return err
	}

	// Hot reload of the languages file.
	fileWatch := watcher.New(logger)
	defer fileWatch.Shutdown()
	if cfg.Languages.File != "" && cfg.Languages.Watch {
		err := fileWatch.Watch(cfg.Languages.File, func(path string) error {
			specs, err := language.LoadFile(path)
			if err != nil {
				return err
			}
			return langs.Replace(specs)
		})
		if err != nil {
			logger.Warn().Err(err).Msg("languages file will not be reloaded")
		}
	}

	ws, err := workspace.New(cfg.Sandbox.WorkspaceRoot)
	if err != nil {
		return err
	}
	janitor, err := workspace.StartJanitor(ws, cfg.Janitor.Schedule, cfg.Janitor.MaxAge, logger)
	if err != nil {
		return err
	}
	defer janitor.Stop()

	reaper, closeDocker := connectEngine(ctx, cfg, langs, logger)
	defer closeDocker()

	noise, err := classify.NewNoiseFilter(cfg.NoiseProfile(), cfg.Noise.Extra)
	if err != nil {
		return fmt.Errorf("noise patterns: %w", err)
	}

	m := metrics.NewCollector()

	launcher := sandbox.NewLauncher(sandbox.Config{
		Runtime:        cfg.Sandbox.Runtime,
		MountPoint:     cfg.Sandbox.MountPoint,
		AllocateTTY:    cfg.Sandbox.AllocateTTY,
		LaunchMode:     cfg.Sandbox.LaunchMode,
		Shell:          cfg.Sandbox.Shell,
		ExtraArgs:      cfg.Sandbox.ExtraArgs,
		Cols:           cfg.Sandbox.Cols,
		Rows:           cfg.Sandbox.Rows,
		TerminateGrace: cfg.Sandbox.TerminateGrace,
	}, langs, ws, reaper, m, logger)

	sessions := session.NewRegistry(cfg.Sessions.MaxSessions, session.Options{
		Launcher:       launcher,
		Noise:          noise,
		SuppressEcho:   cfg.Noise.SuppressEcho,
		TranscriptSize: cfg.Sessions.TranscriptSize,
		InputQueue:     cfg.Sessions.InputQueue,
		Cols:           cfg.Sandbox.Cols,
		Rows:           cfg.Sandbox.Rows,
		Metrics:        m,
		Logger:         logger,
	})

	rl := limiter.NewRateLimiter(cfg.Limits.GlobalRPS, cfg.Limits.PerIPRPS, cfg.Limits.PerIPBurst, cfg.Limits.MaxConcurrent, m)
	rl.StartCleanup(ctx, 5*time.Minute)

	rtServer := realtime.New(realtime.Options{
		Sessions:       sessions,
		Languages:      langs,
		Limiter:        rl,
		Metrics:        m,
		StaticDir:      cfg.Server.StaticDir,
		SendQueue:      cfg.Sessions.SendQueue,
		OneShotTimeout: cfg.Server.OneShotTimeout,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           rtServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("runtime", cfg.Sandbox.Runtime).
			Str("noise_profile", noise.Profile()).
			Int("max_sessions", cfg.Sessions.MaxSessions).
			Msg("coderelay server running")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so
	// sessions are torn down explicitly.
	if err := rtServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sessions did not stop in time")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

// connectEngine talks to the container engine API when configured. A missing
// engine is not fatal: containers still exit with their process.
func connectEngine(ctx context.Context, cfg config.Config, langs *language.Registry, logger zerolog.Logger) (sandbox.Reaper, func()) {
	noop := func() {}
	if !cfg.Sandbox.ForceRemove && !cfg.Sandbox.PullImages {
		return nil, noop
	}

	docker, err := sandbox.NewDocker(logger)
	if err != nil {
		logger.Warn().Err(err).Msg("container engine client unavailable")
		return nil, noop
	}
	closeDocker := func() { _ = docker.Close() }

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := docker.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Msg("container engine unreachable, forced removal disabled")
		return nil, closeDocker
	}

	if cfg.Sandbox.PullImages {
		if err := docker.EnsureImages(ctx, langs.Images()); err != nil {
			logger.Warn().Err(err).Msg("some language images are missing")
		}
	}
	if !cfg.Sandbox.ForceRemove {
		return nil, closeDocker
	}
	return docker, closeDocker
}
