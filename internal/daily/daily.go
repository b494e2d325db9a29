// Package daily runs the morning summary digest on a cron schedule.
package daily

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"braindump/internal/engine"
)

// Runner triggers Engine.DailySummary on the configured cron expression.
// It also sweeps expired proposals on each tick so stale reviews do not
// linger in memory between summaries.
type Runner struct {
	Engine engine.Engine
	cron   *cron.Cron
}

// New builds a stopped runner. Returns nil when the digest is disabled.
func New(e engine.Engine) (*Runner, error) {
	if e.Config == nil || !e.Config.DailySummary.Enabled {
		return nil, nil
	}
	expr := e.Config.DailySummary.Cron
	if expr == "" {
		expr = "0 8 * * *"
	}
	c := cron.New(cron.WithLocation(e.Config.Location()))
	r := &Runner{Engine: e, cron: c}
	if _, err := c.AddFunc(expr, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) run() {
	ctx := context.Background()
	r.Engine.SweepProposals()
	window, inbox, err := r.Engine.DailySummary(ctx)
	if err != nil {
		log.Printf("daily summary failed: %v", err)
		return
	}
	log.Printf("daily summary: %s free=%dm busy=%dm inbox=%d",
		window.Date, window.TotalFreeMinutes, window.TotalBusyMinutes, len(inbox))
}

// Start begins the schedule in a background goroutine.
func (r *Runner) Start() {
	if r == nil {
		return
	}
	r.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Runner) Stop() {
	if r == nil {
		return
	}
	<-r.cron.Stop().Done()
}
