package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

func TestRankOrdersByPriorityWhenEnabled(t *testing.T) {
	cfg := model.BuildSchedulingConfig{
		Parallelization: 2,
		Prioritization:  &model.BuildPrioritization{Enabled: true, FocusDetectionWindow: 5000, PriorityDecayTime: 5000},
	}
	d := NewDispatcher(cfg, logging.New(io.Discard, "error"))
	d.RecordChange("hot")
	pending := []*PendingBuild{{Target: "cold"}, {Target: "hot"}}
	d.Rank(pending)
	if pending[0].Target != "hot" {
		t.Fatalf("expected recently-changed target ranked first, got %+v", pending)
	}
}

func TestRankPreservesOrderWhenDisabled(t *testing.T) {
	cfg := model.BuildSchedulingConfig{Parallelization: 1}
	d := NewDispatcher(cfg, logging.New(io.Discard, "error"))
	pending := []*PendingBuild{{Target: "a"}, {Target: "b"}}
	d.Rank(pending)
	if pending[0].Target != "a" || pending[1].Target != "b" {
		t.Fatalf("expected FIFO order preserved, got %+v", pending)
	}
}

func TestRunBoundsParallelism(t *testing.T) {
	cfg := model.BuildSchedulingConfig{Parallelization: 1}
	d := NewDispatcher(cfg, logging.New(io.Discard, "error"))

	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(context.Background(), func() {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					max := atomic.LoadInt32(&maxConcurrent)
					if n <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, n) {
						break
					}
				}
				atomic.AddInt32(&concurrent, -1)
			})
		}()
	}
	wg.Wait()
	if maxConcurrent != 1 {
		t.Fatalf("expected parallelization=1 to bound concurrency to 1, observed %d", maxConcurrent)
	}
}
