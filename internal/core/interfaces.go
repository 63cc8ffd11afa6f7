// Package core defines the types and interfaces shared by the talking-head service.
package core

import "context"

// Downloader fetches a remote resource into a local file.
type Downloader interface {
	Download(ctx context.Context, url, destPath string) (string, error)
}

// Pipeline is the external talking-head inference pipeline.
// Implementations must be safe to share across jobs; calls are serialised.
type Pipeline interface {
	Preprocess(ctx context.Context, imagePath string, expandRatio float64) (FaceInfo, error)
	CropImage(ctx context.Context, srcPath, dstPath string, bbox BoundingBox) error
	Process(ctx context.Context, params SynthesisParams) error
}

// EmotionResolver maps an emotion tag to a reference asset on disk.
type EmotionResolver interface {
	Resolve(emotion string) (path string, fellBack bool, err error)
}

// OutputSink turns a finished artifact into the job's success result.
type OutputSink interface {
	Name() string
	Publish(ctx context.Context, artifactPath string) (Result, error)
}
