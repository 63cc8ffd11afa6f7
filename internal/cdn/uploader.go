// Package cdn uploads finished videos to a CDN storage zone over HTTP PUT.
package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

const (
	headerAccessKey   = "AccessKey"
	headerContentType = "Content-Type"
	contentTypeMP4    = "video/mp4"
	videoExtension    = ".mp4"
)

// ErrUploadRejected indicates that the storage endpoint did not answer 201 Created.
var ErrUploadRejected = errors.New("upload rejected by storage endpoint")

// Options configure an Uploader. AccessKey must come from injected secrets.
type Options struct {
	StorageEndpoint string
	StorageZone     string
	VideoPath       string
	PublicHost      string
	AccessKey       string
	Timeout         time.Duration
}

// Uploader PUTs artifacts to <endpoint>/<zone>/<video_path>/<uuid>.mp4.
type Uploader struct {
	httpClient *http.Client
	opts       Options
	log        *logger.Logger
}

// NewUploader creates an Uploader.
func NewUploader(opts Options, log *logger.Logger) *Uploader {
	opts.StorageEndpoint = strings.TrimRight(opts.StorageEndpoint, "/")
	opts.VideoPath = strings.Trim(opts.VideoPath, "/")

	return &Uploader{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		log:        log,
	}
}

// Upload sends the file at path under a fresh random key and returns its public URL.
// Every call uses a new key, so identical jobs publish to different URLs.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	objectKey := u.objectKey(uuid.NewString() + videoExtension)

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open video '%s': %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat video '%s': %w", path, err)
	}

	storageURL := u.opts.StorageEndpoint + "/" + url.PathEscape(u.opts.StorageZone) + "/" + objectKey

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, storageURL, file)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.ContentLength = info.Size()
	req.Header.Set(headerAccessKey, u.opts.AccessKey)
	req.Header.Set(headerContentType, contentTypeMP4)

	u.log.Info("Uploading %s (%d bytes) to %s", path, info.Size(), storageURL)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return "", fmt.Errorf("%w: status %s, body: %s", ErrUploadRejected, resp.Status, string(body))
	}

	return u.PublicURL(objectKey), nil
}

// PublicURL maps a storage object key to https://<public_host>/<key>.
func (u *Uploader) PublicURL(objectKey string) string {
	return "https://" + u.opts.PublicHost + "/" + objectKey
}

func (u *Uploader) objectKey(name string) string {
	if u.opts.VideoPath == "" {
		return name
	}

	return u.opts.VideoPath + "/" + name
}
