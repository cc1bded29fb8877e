package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// AuditPruner trims old approval audit rows on a schedule.
type AuditPruner struct {
	store     *SQLiteStore
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewAuditPruner schedules pruning with the given cron spec (for
// example "0 3 * * *" for daily at 03:00). Rows older than retention
// are removed on each run.
func NewAuditPruner(store *SQLiteStore, spec string, retention time.Duration, logger *slog.Logger) (*AuditPruner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &AuditPruner{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		logger:    logger.With("component", "approval-pruner"),
	}
	if _, err := p.cron.AddFunc(spec, p.runOnce); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AuditPruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := p.store.PruneAudit(ctx, p.retention)
	if err != nil {
		p.logger.Warn("approval audit prune failed", "error", err)
		return
	}
	if removed > 0 {
		p.logger.Info("approval audit pruned", "removed", removed)
	}
}

// Start begins the schedule.
func (p *AuditPruner) Start() { p.cron.Start() }

// Stop halts the schedule and waits for a running job to finish.
func (p *AuditPruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}
