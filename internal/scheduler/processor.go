package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/epubtrans/epubtrans/internal/backend"
	"github.com/epubtrans/epubtrans/internal/cache"
	"github.com/epubtrans/epubtrans/internal/checkpoint"
	"github.com/epubtrans/epubtrans/internal/ocr"
	"github.com/epubtrans/epubtrans/internal/unit"
	"github.com/epubtrans/epubtrans/pkg/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRateLimitRetries = 3
	defaultRateLimitDelay   = 2 * time.Second
	maxRateLimitDelay       = 30 * time.Second
)

// Processor resolves units through the lookup chain: checkpoint, then
// cache, then the backend adapter. Results are written through to the
// cache and the run checkpoint. A single Processor is shared by all
// workers of a run and is safe for concurrent use.
type Processor struct {
	adapter    backend.Adapter
	cache      *cache.Store
	ckpt       *checkpoint.Manager
	resumed    map[string]checkpoint.Record
	prefetched map[string]string
	scanner    ocr.Scanner
	renderer   ocr.Renderer

	rateLimitRetries int
	rateLimitDelay   time.Duration

	// Collapses concurrent cache misses on the same key into one
	// adapter call, so identical payloads in flight translate once.
	group singleflight.Group

	// First auth or config error seen. Once set, remaining units fail
	// fast instead of hammering a backend that cannot succeed.
	fatal atomic.Pointer[backend.Error]
}

// ProcessorOptions configures a Processor. Checkpoint and Resumed may
// be nil for one-shot runs without resume support.
type ProcessorOptions struct {
	Adapter    backend.Adapter
	Cache      *cache.Store
	Checkpoint *checkpoint.Manager
	Resumed    map[string]checkpoint.Record
	// Prefetched holds batch-resolved cache values keyed by
	// CacheKey.String(), so already-cached units skip store I/O.
	Prefetched       map[string]string
	Scanner          ocr.Scanner
	Renderer         ocr.Renderer
	RateLimitRetries int
	RateLimitDelay   time.Duration
}

func NewProcessor(opts ProcessorOptions) *Processor {
	p := &Processor{
		adapter:          opts.Adapter,
		cache:            opts.Cache,
		ckpt:             opts.Checkpoint,
		resumed:          opts.Resumed,
		prefetched:       opts.Prefetched,
		scanner:          opts.Scanner,
		renderer:         opts.Renderer,
		rateLimitRetries: opts.RateLimitRetries,
		rateLimitDelay:   opts.RateLimitDelay,
	}
	if p.scanner == nil {
		p.scanner = ocr.NopScanner{}
	}
	if p.rateLimitRetries <= 0 {
		p.rateLimitRetries = defaultRateLimitRetries
	}
	if p.rateLimitDelay <= 0 {
		p.rateLimitDelay = defaultRateLimitDelay
	}
	return p
}

// FatalErr returns the auth/config error that aborted dispatch, if any.
func (p *Processor) FatalErr() error {
	if be := p.fatal.Load(); be != nil {
		return be
	}
	return nil
}

// ProcessText resolves one text unit.
func (p *Processor) ProcessText(ctx context.Context, u unit.Unit) unit.Result {
	key := u.CacheKey(p.adapter.Name())

	if res, ok := p.fromCheckpoint(ctx, u, key); ok {
		return res
	}
	if val, ok := p.prefetched[key.String()]; ok {
		p.recordDone(u.ID, checkpoint.CacheKeyRef(key.String()))
		return unit.Result{UnitID: u.ID, Value: val, FromCache: true}
	}
	value, deduped, err := p.resolveText(ctx, key, u.Text(), u.SourceLang, u.TargetLang)
	if err != nil {
		return p.fail(u.ID, err)
	}
	p.recordDone(u.ID, checkpoint.CacheKeyRef(key.String()))
	return unit.Result{UnitID: u.ID, Value: value, FromCache: deduped}
}

// resolveText serves one text through the cache and, on a miss, a
// singleflight-collapsed adapter call keyed by the cache key. The
// returned bool reports whether the value came from the cache or from
// another caller's in-flight translation.
func (p *Processor) resolveText(ctx context.Context, key unit.CacheKey, text, sourceLang, targetLang string) (string, bool, error) {
	if p.cache != nil {
		if val, ok, err := p.cache.Get(ctx, key); err != nil {
			log.Warn("cache lookup failed: %v", err)
		} else if ok {
			return val, true, nil
		}
	}
	if fatal := p.fatal.Load(); fatal != nil {
		return "", false, fatal
	}

	var leader bool
	v, err, _ := p.group.Do(key.String(), func() (interface{}, error) {
		leader = true
		out, err := p.translate(ctx, []string{text}, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if err := p.cache.Put(ctx, key, text, out[0]); err != nil {
				log.Warn("cache write failed: %v", err)
			}
		}
		return out[0], nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), !leader, nil
}

// ProcessImage resolves one image unit. Images without translatable
// text (or with no OCR engine wired) come back unchanged: a zero Value
// with no error means "keep the original bytes".
func (p *Processor) ProcessImage(ctx context.Context, u unit.Unit) unit.Result {
	if !p.scanner.CanProcess(u.MediaType) {
		return unit.Result{UnitID: u.ID}
	}

	_, resumedDone := p.checkpointRecord(u.ID)
	key := u.ImageCacheKey(p.adapter.Name(), p.scanner.ConfidenceThreshold())

	verdict, cached, err := p.lookupVerdict(ctx, key)
	if err != nil {
		log.Warn("verdict lookup for %s failed: %v", u.ID, err)
	}
	if !cached {
		regions, err := p.scanner.DetectRegions(ctx, u.Payload, u.MediaType)
		if err != nil {
			return p.fail(u.ID, fmt.Errorf("ocr prescan: %w", err))
		}
		verdict = ocr.Verdict{Regions: regions}
		if p.cache != nil {
			if err := p.cache.PutVerdict(ctx, key, verdict); err != nil {
				log.Warn("verdict write for %s failed: %v", u.ID, err)
			}
		}
	}

	if !verdict.HasTranslatableText() {
		p.recordDone(u.ID, checkpoint.CacheKeyRef(key.String()))
		return unit.Result{UnitID: u.ID, FromCache: cached, FromCheckpoint: resumedDone}
	}

	translated, err := p.translateRegions(ctx, verdict.Texts(), u)
	if err != nil {
		return p.fail(u.ID, err)
	}

	if p.renderer == nil {
		// Text found but nothing to draw it with. Not a failure; the
		// original image stays in place.
		p.recordDone(u.ID, checkpoint.CacheKeyRef(key.String()))
		return unit.Result{UnitID: u.ID, FromCache: cached, FromCheckpoint: resumedDone}
	}
	rendered, err := p.renderer.Overlay(ctx, u.Payload, u.MediaType, verdict.Regions, translated)
	if err != nil {
		return p.fail(u.ID, fmt.Errorf("overlay: %w", err))
	}
	p.recordDone(u.ID, checkpoint.CacheKeyRef(key.String()))
	return unit.Result{UnitID: u.ID, Value: string(rendered), FromCache: cached, FromCheckpoint: resumedDone}
}

// translateRegions resolves region texts against the translation cache
// and sends only the misses to the adapter in one batch. Rendered
// bytes are never persisted, so a checkpointed image is rebuilt on
// resume; with the verdict and every region translation cached that
// rebuild makes no backend calls.
func (p *Processor) translateRegions(ctx context.Context, texts []string, u unit.Unit) ([]string, error) {
	translated := make([]string, len(texts))
	keys := make([]unit.CacheKey, len(texts))
	var missIdx []int
	for i, text := range texts {
		keys[i] = regionKey(text, u, p.adapter.Name())
		if p.cache != nil {
			if val, ok, err := p.cache.Get(ctx, keys[i]); err != nil {
				log.Warn("cache lookup for %s failed: %v", u.ID, err)
			} else if ok {
				translated[i] = val
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return translated, nil
	}
	if fatal := p.fatal.Load(); fatal != nil {
		return nil, fatal
	}

	miss := make([]string, len(missIdx))
	for j, i := range missIdx {
		miss[j] = texts[i]
	}
	out, err := p.translate(ctx, miss, u.SourceLang, u.TargetLang)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		translated[i] = out[j]
		if p.cache != nil {
			if err := p.cache.Put(ctx, keys[i], texts[i], out[j]); err != nil {
				log.Warn("cache write for %s failed: %v", u.ID, err)
			}
		}
	}
	return translated, nil
}

// regionKey keys one OCR region's text like a standalone text unit so
// region translations share the text cache.
func regionKey(text string, u unit.Unit, service string) unit.CacheKey {
	r := unit.Unit{
		Kind: unit.KindText, Payload: []byte(text),
		SourceLang: u.SourceLang, TargetLang: u.TargetLang,
	}
	return r.CacheKey(service)
}

// translate calls the adapter, retrying rate-limit rejections with
// bounded exponential backoff. Network-level retries happen inside the
// adapter; everything else surfaces immediately.
func (p *Processor) translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.rateLimitRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, p.rateLimitDelay, maxRateLimitDelay)
			log.Info("%s rate limited, retry %d/%d in %s",
				p.adapter.Name(), attempt, p.rateLimitRetries, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		// Cancellation stops dispatch in the pool; a request already in
		// flight runs to completion under the adapter's own timeout.
		out, err := p.adapter.Translate(context.WithoutCancel(ctx), texts, sourceLang, targetLang)
		if err == nil {
			if len(out) != len(texts) {
				return nil, backend.NewError(backend.KindProvider, p.adapter.Name(),
					fmt.Sprintf("got %d translations for %d texts", len(out), len(texts)))
			}
			return out, nil
		}
		lastErr = err
		if !backend.IsRateLimited(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Processor) fromCheckpoint(ctx context.Context, u unit.Unit, key unit.CacheKey) (unit.Result, bool) {
	rec, ok := p.checkpointRecord(u.ID)
	if !ok {
		return unit.Result{}, false
	}
	if val, inline := rec.InlineValue(); inline {
		return unit.Result{UnitID: u.ID, Value: val, FromCheckpoint: true}, true
	}
	if ref, isCache := rec.CacheRef(); isCache && p.cache != nil && ref == key.String() {
		if val, hit, err := p.cache.Get(ctx, key); err == nil && hit {
			return unit.Result{UnitID: u.ID, Value: val, FromCheckpoint: true}, true
		}
		// Cache was pruned since the checkpoint was written; redo the unit.
	}
	return unit.Result{}, false
}

func (p *Processor) checkpointRecord(unitID string) (checkpoint.Record, bool) {
	rec, ok := p.resumed[unitID]
	if !ok || rec.Status != checkpoint.StatusDone {
		return checkpoint.Record{}, false
	}
	return rec, true
}

func (p *Processor) lookupVerdict(ctx context.Context, key unit.CacheKey) (ocr.Verdict, bool, error) {
	if p.cache == nil {
		return ocr.Verdict{}, false, nil
	}
	return p.cache.GetVerdict(ctx, key)
}

func (p *Processor) fail(unitID string, err error) unit.Result {
	if backend.IsFatal(err) {
		var be *backend.Error
		if !errors.As(err, &be) {
			be = backend.WrapError(backend.KindConfig, p.adapter.Name(), err.Error(), err)
		}
		if p.fatal.CompareAndSwap(nil, be) {
			log.Error("%s: fatal backend error, stopping dispatch: %v", p.adapter.Name(), err)
		}
	}
	if p.ckpt != nil {
		if cerr := p.ckpt.RecordFailed(unitID, err.Error()); cerr != nil {
			log.Warn("checkpoint write for %s failed: %v", unitID, cerr)
		}
	}
	return unit.Result{UnitID: unitID, Err: err}
}

func (p *Processor) recordDone(unitID, ref string) {
	if p.ckpt == nil {
		return
	}
	if err := p.ckpt.RecordDone(unitID, ref); err != nil {
		log.Warn("checkpoint write for %s failed: %v", unitID, err)
	}
}

func backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
