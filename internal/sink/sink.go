// Package sink turns a generated video into a job's success result.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/google/uuid"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
	videoExtension  = ".mp4"
	contentTypeMP4  = "video/mp4"

	// LocalMessage accompanies output_video_path in local results.
	LocalMessage = "Video generated. It is stored on the worker's output volume."
	// ObjectStoreMessage accompanies video_key in object store results.
	ObjectStoreMessage = "Video generated and stored in bucket %s."
)

// Uploader publishes a local file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// FileStore streams a local file into a bucket.
type FileStore interface {
	Bucket() string
	UploadFile(ctx context.Context, key, path, contentType string) error
}

// Local copies artifacts out of the request scope into a persistent directory.
type Local struct {
	dir string
	log *logger.Logger
}

// NewLocal creates a Local sink writing into dir.
func NewLocal(dir string, log *logger.Logger) *Local {
	return &Local{dir: dir, log: log}
}

// Name implements core.OutputSink.
func (s *Local) Name() string {
	return "local"
}

// Publish copies the artifact to <dir>/output_video_<uuid>.mp4.
func (s *Local) Publish(_ context.Context, artifactPath string) (core.Result, error) {
	err := os.MkdirAll(s.dir, dirPermissions)
	if err != nil {
		return core.Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	dest := filepath.Join(s.dir, "output_video_"+uuid.NewString()+videoExtension)

	err = copyFile(artifactPath, dest)
	if err != nil {
		return core.Result{}, err
	}

	s.log.Info("Output video successfully generated: %s", dest)

	return core.Result{OutputVideoPath: dest, Message: LocalMessage}, nil
}

// CDN uploads artifacts and returns their public URL.
type CDN struct {
	uploader Uploader
	log      *logger.Logger
}

// NewCDN creates a CDN sink.
func NewCDN(uploader Uploader, log *logger.Logger) *CDN {
	return &CDN{uploader: uploader, log: log}
}

// Name implements core.OutputSink.
func (s *CDN) Name() string {
	return "cdn"
}

// Publish uploads the artifact.
func (s *CDN) Publish(ctx context.Context, artifactPath string) (core.Result, error) {
	videoURL, err := s.uploader.Upload(ctx, artifactPath)
	if err != nil {
		return core.Result{}, err
	}

	s.log.Info("Video uploaded to %s", videoURL)

	return core.Result{VideoURL: videoURL}, nil
}

// ObjectStore puts artifacts into a NATS object store bucket.
type ObjectStore struct {
	store FileStore
	log   *logger.Logger
}

// NewObjectStore creates an ObjectStore sink.
func NewObjectStore(store FileStore, log *logger.Logger) *ObjectStore {
	return &ObjectStore{store: store, log: log}
}

// Name implements core.OutputSink.
func (s *ObjectStore) Name() string {
	return "objectstore"
}

// Publish stores the artifact under <uuid>.mp4.
func (s *ObjectStore) Publish(ctx context.Context, artifactPath string) (core.Result, error) {
	key := uuid.NewString() + videoExtension

	err := s.store.UploadFile(ctx, key, artifactPath, contentTypeMP4)
	if err != nil {
		return core.Result{}, err
	}

	s.log.Info("Video stored as %s in bucket %s", key, s.store.Bucket())

	return core.Result{
		VideoKey: key,
		Message:  fmt.Sprintf(ObjectStoreMessage, s.store.Bucket()),
	}, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", dst, err)
	}

	defer func() {
		closeErr := out.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close '%s': %w", dst, closeErr)
		}
	}()

	_, err = io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("failed to copy '%s' to '%s': %w", src, dst, err)
	}

	return nil
}
