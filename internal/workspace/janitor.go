package workspace

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically sweeps workspace directories left behind by crashed
// or killed server processes.
type Janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules Sweep(maxAge) on a cron spec such as "@every 10m".
// One sweep runs immediately.
func StartJanitor(m *Manager, schedule string, maxAge time.Duration, logger zerolog.Logger) (*Janitor, error) {
	sweep := func() {
		n, err := m.Sweep(maxAge)
		if err != nil {
			logger.Warn().Err(err).Str("root", m.Root()).Msg("workspace sweep incomplete")
		}
		if n > 0 {
			logger.Info().Int("removed", n).Str("root", m.Root()).Msg("swept stale workspaces")
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	sweep()
	c.Start()
	return &Janitor{cron: c}, nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
