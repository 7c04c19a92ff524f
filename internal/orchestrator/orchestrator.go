// Package orchestrator drives a translation run: it partitions units
// by kind, feeds them through the worker pools, and assembles results
// and run statistics.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/epubtrans/epubtrans/internal/backend"
	"github.com/epubtrans/epubtrans/internal/cache"
	"github.com/epubtrans/epubtrans/internal/checkpoint"
	"github.com/epubtrans/epubtrans/internal/ocr"
	"github.com/epubtrans/epubtrans/internal/scheduler"
	"github.com/epubtrans/epubtrans/internal/unit"
	"github.com/epubtrans/epubtrans/pkg/log"
)

// Deps wires a run together. Cache may be nil; the run then degrades
// to direct backend calls. CheckpointPath empty disables resume.
type Deps struct {
	Adapter        backend.Adapter
	Cache          *cache.Store
	CheckpointPath string
	Resume         bool
	Scanner        ocr.Scanner
	Renderer       ocr.Renderer

	TextWorkers      int
	ImageWorkers     int
	RateLimitRetries int
	RateLimitDelay   time.Duration
}

// ClassStats counts outcomes for one unit class.
type ClassStats struct {
	Total          int
	Succeeded      int
	Failed         int
	FromCache      int
	FromCheckpoint int
}

// Report summarizes a finished run.
type Report struct {
	RunID        string
	Service      string
	Text         ClassStats
	Images       ClassStats
	TextSeconds  float64
	ImageSeconds float64
	TotalSeconds float64
	CacheStats   *cache.Stats
}

// RunResult carries per-unit outcomes plus the run report. Results are
// ordered by unit ID; failed or undispatched units fall back to their
// original payload so document reassembly never loses content.
type RunResult struct {
	RunID   string
	Results []unit.Result
	Report  Report

	byID map[string]int
}

// Value returns the output for a unit ID.
func (r *RunResult) Value(unitID string) (string, bool) {
	idx, ok := r.byID[unitID]
	if !ok {
		return "", false
	}
	return r.Results[idx].Value, true
}

// Failed reports whether any unit failed.
func (r *RunResult) Failed() bool {
	return r.Report.Text.Failed > 0 || r.Report.Images.Failed > 0
}

// Orchestrator runs translation workloads against one backend.
type Orchestrator struct {
	deps Deps
}

func New(deps Deps) *Orchestrator {
	if deps.TextWorkers <= 0 {
		deps.TextWorkers = 4
	}
	if deps.ImageWorkers <= 0 {
		deps.ImageWorkers = 2
	}
	if deps.Scanner == nil {
		deps.Scanner = ocr.NopScanner{}
	}
	return &Orchestrator{deps: deps}
}

// Run translates every unit. Unit-level failures are reported in the
// results, not as a run error; the returned error is reserved for
// conditions that abort the run as a whole (context cancellation or a
// fatal backend error such as a rejected API key).
func (o *Orchestrator) Run(ctx context.Context, units []unit.Unit) (*RunResult, error) {
	runID := uuid.NewString()
	started := time.Now()
	log.Info("run %s: %d unit(s) via %s", runID, len(units), o.deps.Adapter.Name())

	var texts, images []unit.Unit
	for _, u := range units {
		if u.Kind == unit.KindImage {
			images = append(images, u)
		} else {
			texts = append(texts, u)
		}
	}

	var (
		ckptMgr *checkpoint.Manager
		resumed map[string]checkpoint.Record
	)
	if o.deps.CheckpointPath != "" {
		if o.deps.Resume {
			var err error
			resumed, err = checkpoint.Load(o.deps.CheckpointPath)
			if err != nil {
				return nil, err
			}
			if len(resumed) > 0 {
				log.Info("run %s: resuming past %d checkpointed unit(s)", runID, len(resumed))
			}
		}
		var err error
		ckptMgr, err = checkpoint.Open(o.deps.CheckpointPath)
		if err != nil {
			return nil, err
		}
		defer ckptMgr.Close()
	}

	// Pre-resolve cached text units in one query so already-translated
	// content never occupies a worker longer than a map lookup.
	var prefetched map[string]string
	if o.deps.Cache != nil && len(texts) > 0 {
		keys := make([]unit.CacheKey, len(texts))
		for i, u := range texts {
			keys[i] = u.CacheKey(o.deps.Adapter.Name())
		}
		var err error
		prefetched, err = o.deps.Cache.GetBatch(ctx, keys)
		if err != nil {
			log.Warn("run %s: cache prefetch failed: %v", runID, err)
			prefetched = nil
		}
	}

	proc := scheduler.NewProcessor(scheduler.ProcessorOptions{
		Adapter:          o.deps.Adapter,
		Cache:            o.deps.Cache,
		Checkpoint:       ckptMgr,
		Resumed:          resumed,
		Prefetched:       prefetched,
		Scanner:          o.deps.Scanner,
		Renderer:         o.deps.Renderer,
		RateLimitRetries: o.deps.RateLimitRetries,
		RateLimitDelay:   o.deps.RateLimitDelay,
	})

	var (
		textResults, imageResults []unit.Result
		textDur, imageDur         time.Duration
	)
	// The image prescan is cheap and mostly cache-bound, so both pools
	// run concurrently rather than image work waiting for text. Pools
	// always run to completion and report failures per unit; the group
	// only joins the two phases.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t0 := time.Now()
		textResults = scheduler.NewPool("text", o.deps.TextWorkers).Run(gctx, texts, proc.ProcessText)
		textDur = time.Since(t0)
		return nil
	})
	g.Go(func() error {
		t0 := time.Now()
		imageResults = scheduler.NewPool("image", o.deps.ImageWorkers).Run(gctx, images, proc.ProcessImage)
		imageDur = time.Since(t0)
		return nil
	})
	_ = g.Wait()

	if ckptMgr != nil {
		if err := ckptMgr.Flush(); err != nil {
			log.Warn("run %s: checkpoint flush failed: %v", runID, err)
		}
	}

	result := o.assemble(ctx, runID, texts, images, textResults, imageResults)
	result.Report.TextSeconds = textDur.Seconds()
	result.Report.ImageSeconds = imageDur.Seconds()
	result.Report.TotalSeconds = time.Since(started).Seconds()

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := proc.FatalErr(); err != nil {
		return result, err
	}
	if !result.Failed() && o.deps.CheckpointPath != "" && ckptMgr != nil {
		_ = ckptMgr.Close()
		if err := checkpoint.Remove(o.deps.CheckpointPath); err != nil {
			log.Warn("run %s: checkpoint cleanup failed: %v", runID, err)
		}
	}
	log.Info("run %s: done in %.1fs (text %d/%d ok, images %d/%d ok)",
		runID, result.Report.TotalSeconds,
		result.Report.Text.Succeeded, result.Report.Text.Total,
		result.Report.Images.Succeeded, result.Report.Images.Total)
	return result, nil
}

func (o *Orchestrator) assemble(ctx context.Context, runID string, texts, images []unit.Unit, textResults, imageResults []unit.Result) *RunResult {
	result := &RunResult{
		RunID:   runID,
		Results: make([]unit.Result, 0, len(textResults)+len(imageResults)),
		Report:  Report{RunID: runID, Service: o.deps.Adapter.Name()},
	}

	tally := func(units []unit.Unit, results []unit.Result, stats *ClassStats) {
		stats.Total = len(results)
		for i, res := range results {
			if res.Failed() {
				stats.Failed++
				// Keep the source content in place of the failed unit.
				res.Value = units[i].Text()
			} else {
				stats.Succeeded++
				if res.FromCache {
					stats.FromCache++
				}
				if res.FromCheckpoint {
					stats.FromCheckpoint++
				}
			}
			result.Results = append(result.Results, res)
		}
	}
	tally(texts, textResults, &result.Report.Text)
	tally(images, imageResults, &result.Report.Images)

	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].UnitID < result.Results[j].UnitID
	})
	result.byID = make(map[string]int, len(result.Results))
	for i, res := range result.Results {
		result.byID[res.UnitID] = i
	}

	if o.deps.Cache != nil {
		if stats, err := o.deps.Cache.Stats(ctx); err == nil {
			result.Report.CacheStats = &stats
		}
	}
	return result
}

// TranslateString translates one string through the cache-aware
// pipeline. Used for metadata and TOC labels outside a full run.
func (o *Orchestrator) TranslateString(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	u := unit.Unit{
		ID:         "str:" + uuid.NewString()[:8],
		Kind:       unit.KindText,
		Payload:    []byte(text),
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}
	proc := scheduler.NewProcessor(scheduler.ProcessorOptions{
		Adapter:          o.deps.Adapter,
		Cache:            o.deps.Cache,
		RateLimitRetries: o.deps.RateLimitRetries,
		RateLimitDelay:   o.deps.RateLimitDelay,
	})
	res := proc.ProcessText(ctx, u)
	if res.Err != nil {
		return "", res.Err
	}
	return res.Value, nil
}

// CacheStats reports cache statistics, or nil without a cache.
func (o *Orchestrator) CacheStats(ctx context.Context) (*cache.Stats, error) {
	if o.deps.Cache == nil {
		return nil, nil
	}
	stats, err := o.deps.Cache.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// CacheClear empties the cache.
func (o *Orchestrator) CacheClear(ctx context.Context) error {
	if o.deps.Cache == nil {
		return nil
	}
	return o.deps.Cache.Clear(ctx)
}

// CachePrune removes entries older than age.
func (o *Orchestrator) CachePrune(ctx context.Context, age time.Duration) (int64, error) {
	if o.deps.Cache == nil {
		return 0, nil
	}
	return o.deps.Cache.PruneOlderThan(ctx, age)
}
