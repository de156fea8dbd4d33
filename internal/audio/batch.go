package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"narrator/internal/artifact"
	"narrator/internal/content"
	"narrator/internal/eventbus"
	logx "narrator/pkg/logx"
)

// GenerateAll runs GenerateForItem over every narratable item with a bounded
// worker pool. Per-item failures are recorded in the report and never abort
// the batch. Results keep the repository order.
func (p *Pipeline) GenerateAll(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	if err := p.acquireBatch(); err != nil {
		return BatchReport{}, err
	}
	defer p.releaseBatch()
	return p.generateAll(ctx, opts)
}

// Batch is a reserved batch slot. Callers that must answer before the work
// starts reserve first, then run one operation; the slot is released when
// it returns, or by Release if nothing runs.
type Batch struct {
	p    *Pipeline
	once sync.Once
}

// ReserveBatch takes the batch slot or returns ErrBatchInProgress.
func (p *Pipeline) ReserveBatch() (*Batch, error) {
	if err := p.acquireBatch(); err != nil {
		return nil, err
	}
	return &Batch{p: p}, nil
}

func (b *Batch) GenerateAll(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	defer b.Release()
	return b.p.generateAll(ctx, opts)
}

func (b *Batch) RegenerateOutdated(ctx context.Context) ([]Result, error) {
	defer b.Release()
	return b.p.regenerateOutdated(ctx)
}

func (b *Batch) Release() { b.once.Do(b.p.releaseBatch) }

func (p *Pipeline) generateAll(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	report := BatchReport{ID: uuid.NewString(), StartedAt: p.now().UTC()}
	items, err := p.repo.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("list content: %w", err)
	}

	var ids []int64
	for _, it := range items {
		if content.HasNarratableContent(it) {
			ids = append(ids, it.ID)
		} else {
			report.Ignored++
		}
	}
	report.Total = len(ids)
	report.Results = make([]Result, len(ids))

	workers := opts.Concurrency
	if workers <= 0 {
		workers = p.cfg.Concurrency
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	log := p.log.With(logx.String("batch_id", report.ID))
	log.Info("audio batch started", logx.Int("items", len(ids)), logx.Int("workers", workers), logx.Bool("force", opts.Force))

	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				res, _ := p.GenerateForItem(ctx, ids[i], GenerateOptions{Force: opts.Force})
				report.Results[i] = res
			}
		}()
	}
	for i := range ids {
		queue <- i
	}
	close(queue)
	wg.Wait()

	for _, r := range report.Results {
		switch {
		case r.Err != nil:
			report.Failed++
		case r.Skipped:
			report.Skipped++
		default:
			report.Succeeded++
		}
	}
	report.FinishedAt = p.now().UTC()

	log.Info("audio batch finished",
		logx.Int("total", report.Total),
		logx.Int("succeeded", report.Succeeded),
		logx.Int("skipped", report.Skipped),
		logx.Int("failed", report.Failed),
		logx.Duration("took", report.Took()),
	)
	p.bus.Publish(eventbus.Event{Type: eventbus.AudioBatchDone, Data: summarize(report)})
	return report, ctx.Err()
}

// BatchSummary is a BatchReport without per-item results.
type BatchSummary struct {
	ID        string        `json:"id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"took"`
}

func summarize(r BatchReport) BatchSummary {
	return BatchSummary{ID: r.ID, Total: r.Total, Succeeded: r.Succeeded, Skipped: r.Skipped, Failed: r.Failed, Took: r.Took()}
}

// Status classifies items as generated, outdated or pending by comparing
// the stored hash with the current fingerprint. Items with neither stored
// audio nor narratable content are counted as ignored. It never writes.
func (p *Pipeline) Status(ctx context.Context) (StatusReport, error) {
	items, err := p.repo.ListAll(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list content: %w", err)
	}
	rep := StatusReport{Items: make([]ItemStatus, 0, len(items))}
	for _, it := range items {
		md, ok, err := p.repo.ArtifactMetadata(ctx, it.ID)
		if err != nil {
			return StatusReport{}, fmt.Errorf("item %d: %w", it.ID, err)
		}
		if !ok && !content.HasNarratableContent(it) {
			rep.Ignored++
			continue
		}
		st := ItemStatus{ContentID: it.ID, Title: it.Title, CurrentHash: content.Fingerprint(it)}
		switch {
		case !ok:
			st.State = StatePending
			rep.Pending++
		case md.ContentHash == st.CurrentHash:
			st.State = StateGenerated
			rep.Generated++
		default:
			st.State = StateOutdated
			rep.Outdated++
		}
		if ok {
			at := md.GeneratedAt
			st.StoredHash = md.ContentHash
			st.GeneratedAt = &at
			st.PublicURL = md.PublicURL
			st.SizeBytes = md.FileSizeBytes
		}
		rep.Items = append(rep.Items, st)
	}
	rep.Total = len(rep.Items)
	return rep, nil
}

// RegenerateOutdated force-regenerates outdated items one at a time.
func (p *Pipeline) RegenerateOutdated(ctx context.Context) ([]Result, error) {
	if err := p.acquireBatch(); err != nil {
		return nil, err
	}
	defer p.releaseBatch()
	return p.regenerateOutdated(ctx)
}

func (p *Pipeline) regenerateOutdated(ctx context.Context) ([]Result, error) {
	st, err := p.Status(ctx)
	if err != nil {
		return nil, err
	}
	var results []Result
	failed := 0
	for _, it := range st.Items {
		if it.State != StateOutdated {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, _ := p.GenerateForItem(ctx, it.ContentID, GenerateOptions{Force: true})
		if res.Err != nil {
			failed++
		}
		results = append(results, res)
	}
	p.log.Info("outdated audio regenerated", logx.Int("items", len(results)), logx.Int("failed", failed))
	p.bus.Publish(eventbus.Event{Type: eventbus.AudioRegenerated, Data: map[string]int{"items": len(results), "failed": failed}})
	return results, nil
}

// DeleteAll removes every hashed and legacy artifact and clears metadata.
// Metadata is only cleared when the artifact deletes succeed, so a failed
// item can be retried.
func (p *Pipeline) DeleteAll(ctx context.Context) (PurgeReport, error) {
	if err := p.acquireBatch(); err != nil {
		return PurgeReport{}, err
	}
	defer p.releaseBatch()

	items, err := p.repo.ListAll(ctx)
	if err != nil {
		return PurgeReport{}, fmt.Errorf("list content: %w", err)
	}
	var rep PurgeReport
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := p.purgeItem(ctx, it.ID, &rep); err != nil {
			rep.Errors = append(rep.Errors, PurgeError{ContentID: it.ID, Error: err.Error()})
			p.log.Warn("audio purge failed", logx.Int64("content_id", it.ID), logx.Err(err))
		}
	}
	p.log.Info("audio purged", logx.Int("deleted", rep.Deleted), logx.Int("errors", len(rep.Errors)))
	p.bus.Publish(eventbus.Event{Type: eventbus.AudioPurged, Data: map[string]int{"deleted": rep.Deleted, "errors": len(rep.Errors)}})
	return rep, nil
}

func (p *Pipeline) purgeItem(ctx context.Context, id int64, rep *PurgeReport) error {
	md, ok, err := p.repo.ArtifactMetadata(ctx, id)
	if err != nil {
		return err
	}
	var errs []error
	if ok && md.StoragePath != "" {
		if err := p.deleteArtifact(ctx, md.StoragePath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.deleteArtifact(ctx, artifact.LegacyPath(p.cfg.Prefix, id)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !ok {
		return nil
	}
	if err := p.repo.ClearArtifactMetadata(ctx, id); err != nil {
		return err
	}
	rep.Deleted++
	return nil
}
