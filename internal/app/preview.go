package app

import (
	"context"
	"time"

	"narrator/internal/config"
	"narrator/internal/eventbus"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

type JobPreview struct {
	Name     string      `json:"name"`
	Spec     string      `json:"spec"`
	Action   string      `json:"action"`
	Enabled  bool        `json:"enabled"`
	Timezone string      `json:"timezone"`
	Next     []time.Time `json:"next"`
}

// PreviewJobs lists configured jobs with their next n fire times in the
// scheduler's timezone. Nothing is armed or run.
func PreviewJobs(cfg *config.Config, n int) ([]JobPreview, error) {
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	s := scheduler.New(sc, logx.Nop(), eventbus.Nop())
	noop := func(context.Context) error { return nil }

	out := make([]JobPreview, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		jp := JobPreview{
			Name:     jc.Name,
			Spec:     jc.Schedule,
			Action:   jc.Action,
			Enabled:  jc.IsEnabled(),
			Timezone: s.Location().String(),
		}
		if err := s.Register(jc.Name, jc.Schedule, noop); err != nil {
			return nil, err
		}
		if jp.Next, err = s.Preview(jc.Name, n); err != nil {
			return nil, err
		}
		out = append(out, jp)
	}
	return out, nil
}
