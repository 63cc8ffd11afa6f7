package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/book-expert/talkinghead-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

// overlapPipeline records the highest number of calls in flight at once.
type overlapPipeline struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *overlapPipeline) enter() {
	current := p.inFlight.Add(1)
	for {
		seen := p.maxSeen.Load()
		if current <= seen || p.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)
	p.inFlight.Add(-1)
}

func (p *overlapPipeline) Preprocess(_ context.Context, _ string, _ float64) (core.FaceInfo, error) {
	p.enter()

	return core.FaceInfo{FaceNum: 1}, nil
}

func (p *overlapPipeline) CropImage(_ context.Context, _, _ string, _ core.BoundingBox) error {
	p.enter()

	return nil
}

func (p *overlapPipeline) Process(_ context.Context, _ core.SynthesisParams) error {
	p.enter()

	return nil
}

func TestSerialize_OneCallAtATime(t *testing.T) {
	t.Parallel()

	inner := &overlapPipeline{}
	guarded := pipeline.Serialize(inner)

	var waitGroup sync.WaitGroup

	for range 8 {
		waitGroup.Add(3)

		go func() {
			defer waitGroup.Done()

			_, _ = guarded.Preprocess(context.Background(), "img", 0.5)
		}()

		go func() {
			defer waitGroup.Done()

			_ = guarded.CropImage(context.Background(), "a", "b", core.BoundingBox{})
		}()

		go func() {
			defer waitGroup.Done()

			_ = guarded.Process(context.Background(), core.SynthesisParams{})
		}()
	}

	waitGroup.Wait()

	assert.Equal(t, int32(1), inner.maxSeen.Load())
}
