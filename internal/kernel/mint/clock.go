package mint

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/agent-kernel/pkg/logger"
)

// Clock drives Mint.Tick on a cron schedule, mirroring the ticker-worker
// lifecycle (explicit Start/Stop, idempotent Stop) used elsewhere in the
// kernel for background tasks.
type Clock struct {
	mint *Mint
	cron *cron.Cron
	log  *logger.Logger

	stopOnce sync.Once
}

// NewClock builds a clock that calls mint.Tick on every spec match
// (default "@every 1s").
func NewClock(m *Mint, spec string, log *logger.Logger) (*Clock, error) {
	if spec == "" {
		spec = "@every 1s"
	}
	c := cron.New()
	clock := &Clock{mint: m, cron: c, log: log}
	if _, err := c.AddFunc(spec, clock.tick); err != nil {
		return nil, err
	}
	return clock, nil
}

func (c *Clock) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Warn("mint tick panic recovered")
		}
	}()
	c.mint.Tick(context.Background(), time.Now())
}

// Start begins the cron schedule. It returns immediately; cron runs its
// own goroutine.
func (c *Clock) Start() { c.cron.Start() }

// Stop halts the schedule and waits for any in-flight tick to finish. Safe
// to call more than once.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() {
		<-c.cron.Stop().Done()
	})
}
