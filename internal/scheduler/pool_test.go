package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/epubtrans/epubtrans/internal/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textUnits(n int) []unit.Unit {
	units := make([]unit.Unit, n)
	for i := range units {
		units[i] = unit.Unit{
			ID:         fmt.Sprintf("doc1:seg%d", i),
			Kind:       unit.KindText,
			Payload:    []byte(fmt.Sprintf("segment %d", i)),
			SourceLang: "en",
			TargetLang: "ko",
		}
	}
	return units
}

func TestPool_ProcessesAllUnitsInOrder(t *testing.T) {
	t.Parallel()

	units := textUnits(20)
	pool := NewPool("text", 4)
	results := pool.Run(context.Background(), units, func(_ context.Context, u unit.Unit) unit.Result {
		return unit.Result{UnitID: u.ID, Value: "t:" + u.Text()}
	})

	require.Len(t, results, len(units))
	for i, res := range results {
		assert.Equal(t, units[i].ID, res.UnitID)
		assert.Equal(t, "t:"+units[i].Text(), res.Value)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	var inFlight, peak atomic.Int64
	var mu sync.Mutex

	pool := NewPool("text", size)
	pool.Run(context.Background(), textUnits(30), func(_ context.Context, u unit.Unit) unit.Result {
		cur := inFlight.Add(1)
		mu.Lock()
		if cur > peak.Load() {
			peak.Store(cur)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return unit.Result{UnitID: u.ID}
	})

	assert.LessOrEqual(t, peak.Load(), int64(size))
}

func TestPool_FailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	units := textUnits(10)
	pool := NewPool("text", 2)
	results := pool.Run(context.Background(), units, func(_ context.Context, u unit.Unit) unit.Result {
		if u.ID == "doc1:seg4" {
			return unit.Result{UnitID: u.ID, Err: errors.New("boom")}
		}
		return unit.Result{UnitID: u.ID, Value: "ok"}
	})

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
			assert.Equal(t, "doc1:seg4", res.UnitID)
		} else {
			assert.Equal(t, "ok", res.Value)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestPool_CancellationStopsDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	units := textUnits(50)
	var processed atomic.Int64

	pool := NewPool("text", 2)
	results := pool.Run(ctx, units, func(ctx context.Context, u unit.Unit) unit.Result {
		if processed.Add(1) == 4 {
			cancel()
		}
		time.Sleep(time.Millisecond)
		return unit.Result{UnitID: u.ID, Value: "ok"}
	})

	require.Len(t, results, len(units))
	assert.Less(t, processed.Load(), int64(len(units)), "dispatch should stop after cancel")

	canceled := 0
	for _, res := range results {
		if errors.Is(res.Err, context.Canceled) {
			canceled++
		}
	}
	assert.Positive(t, canceled, "undispatched units carry the context error")
}

func TestPool_EmptyInput(t *testing.T) {
	t.Parallel()

	pool := NewPool("text", 4)
	results := pool.Run(context.Background(), nil, func(_ context.Context, u unit.Unit) unit.Result {
		t.Fatal("process must not be called")
		return unit.Result{}
	})
	assert.Empty(t, results)
}
