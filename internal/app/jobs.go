package app

import (
	"context"
	"fmt"
	"time"

	"narrator/internal/audio"
	"narrator/internal/config"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

const defaultAuditRetention = 30 * 24 * time.Hour

type jobPipeline interface {
	GenerateAll(ctx context.Context, opts audio.BatchOptions) (audio.BatchReport, error)
	RegenerateOutdated(ctx context.Context) ([]audio.Result, error)
	Status(ctx context.Context) (audio.StatusReport, error)
}

type auditPruner interface {
	PruneAudit(ctx context.Context, cutoff time.Time) (int64, error)
}

// registerJobs adds every enabled configured job to s.
func registerJobs(s *scheduler.Scheduler, jobs []config.JobConfig, p jobPipeline, audit auditPruner, log logx.Logger) error {
	for i, jc := range jobs {
		if !jc.IsEnabled() {
			log.Debug("job disabled", logx.String("job", jc.Name))
			continue
		}
		h, err := jobHandler(jc, p, audit, log.With(logx.String("job", jc.Name)))
		if err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
		var opts []scheduler.JobOption
		timeout, err := config.ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), jc.Timeout)
		if err != nil {
			return err
		}
		if timeout > 0 {
			opts = append(opts, scheduler.WithTimeout(timeout))
		}
		if err := s.Register(jc.Name, jc.Schedule, h, opts...); err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
	}
	return nil
}

func jobHandler(jc config.JobConfig, p jobPipeline, audit auditPruner, log logx.Logger) (scheduler.Handler, error) {
	switch jc.Action {
	case config.ActionGenerateAll:
		force := jc.Force
		return func(ctx context.Context) error {
			rep, err := p.GenerateAll(ctx, audio.BatchOptions{Force: force})
			if err != nil {
				return err
			}
			if rep.Failed > 0 {
				return fmt.Errorf("%d of %d items failed", rep.Failed, rep.Total)
			}
			return nil
		}, nil

	case config.ActionRegenerateOutdated:
		return func(ctx context.Context) error {
			results, err := p.RegenerateOutdated(ctx)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if !r.OK() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d outdated items failed", failed, len(results))
			}
			return nil
		}, nil

	case config.ActionStatusReport:
		return func(ctx context.Context) error {
			rep, err := p.Status(ctx)
			if err != nil {
				return err
			}
			log.Info("audio status",
				logx.Int("total", rep.Total),
				logx.Int("generated", rep.Generated),
				logx.Int("outdated", rep.Outdated),
				logx.Int("pending", rep.Pending),
				logx.Int("ignored", rep.Ignored),
			)
			return nil
		}, nil

	case config.ActionPruneAudit:
		if audit == nil {
			return nil, fmt.Errorf("action %s needs storage", jc.Action)
		}
		retention, err := config.ParseDurationOrDefault(jc.Name+".retention", jc.Retention, defaultAuditRetention)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			n, err := audit.PruneAudit(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			log.Info("audit pruned", logx.Int64("deleted", n), logx.Duration("retention", retention))
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown action %q", jc.Action)
	}
}
