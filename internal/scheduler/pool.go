// Package scheduler runs translation units through bounded worker
// pools. Failures stay isolated to their unit; cancellation stops
// dispatch and lets in-flight work drain.
package scheduler

import (
	"context"
	"sync"

	"github.com/epubtrans/epubtrans/internal/unit"
	"github.com/epubtrans/epubtrans/pkg/log"
)

// ProcessFunc handles one unit and reports its outcome. It must not
// panic; a unit-level failure is returned inside the Result.
type ProcessFunc func(ctx context.Context, u unit.Unit) unit.Result

// Pool is a fixed-size worker pool over a FIFO unit queue.
type Pool struct {
	name string
	size int
}

func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{name: name, size: size}
}

// Run processes every unit and returns one Result per unit, in input
// order. At most p.size units are in flight at once. When ctx is
// canceled no further units are dispatched; units never dispatched
// come back with ctx's error so the caller can tell them from real
// failures.
func (p *Pool) Run(ctx context.Context, units []unit.Unit, process ProcessFunc) []unit.Result {
	results := make([]unit.Result, len(units))
	if len(units) == 0 {
		return results
	}

	workers := p.size
	if workers > len(units) {
		workers = len(units)
	}
	log.Debug("pool %s: %d unit(s), %d worker(s)", p.name, len(units), workers)

	tasks := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				results[idx] = process(ctx, units[idx])
			}
		}()
	}

	dispatched := 0
dispatch:
	for idx := range units {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- idx:
			dispatched++
		}
	}
	close(tasks)
	wg.Wait()

	for idx := dispatched; idx < len(units); idx++ {
		results[idx] = unit.Result{UnitID: units[idx].ID, Err: ctx.Err()}
	}
	if dispatched < len(units) {
		log.Info("pool %s: canceled with %d unit(s) undispatched", p.name, len(units)-dispatched)
	}
	return results
}
