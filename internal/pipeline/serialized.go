package pipeline

import (
	"context"
	"sync"

	"github.com/book-expert/talkinghead-service/internal/core"
)

// Serialized wraps a pipeline so that at most one call runs at a time.
// The model holds a single GPU context and is not safe for concurrent use.
type Serialized struct {
	mu   sync.Mutex
	next core.Pipeline
}

// Serialize guards next with a process-wide mutex.
func Serialize(next core.Pipeline) *Serialized {
	return &Serialized{next: next}
}

// Preprocess forwards to the wrapped pipeline under the lock.
func (s *Serialized) Preprocess(ctx context.Context, imagePath string, expandRatio float64) (core.FaceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next.Preprocess(ctx, imagePath, expandRatio)
}

// CropImage forwards to the wrapped pipeline under the lock.
func (s *Serialized) CropImage(ctx context.Context, srcPath, dstPath string, bbox core.BoundingBox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next.CropImage(ctx, srcPath, dstPath, bbox)
}

// Process forwards to the wrapped pipeline under the lock.
func (s *Serialized) Process(ctx context.Context, params core.SynthesisParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next.Process(ctx, params)
}
