// Package download streams remote job inputs to local files.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"
)

const (
	chunkSize       = 8192
	filePermissions = 0o600
)

// ErrUnexpectedStatus indicates that the server answered with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// HTTPDownloader implements core.Downloader with a plain streaming GET.
type HTTPDownloader struct {
	httpClient *http.Client
	log        *logger.Logger
}

// New creates an HTTPDownloader whose requests time out after timeout.
func New(timeout time.Duration, log *logger.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Download fetches url and writes the body to destPath in fixed-size chunks.
// It returns destPath on success. There is no retry.
func (d *HTTPDownloader) Download(ctx context.Context, url, destPath string) (string, error) {
	err := d.fetch(ctx, url, destPath)
	if err != nil {
		d.log.Error("Error downloading %s: %v", url, err)

		return "", err
	}

	return destPath, nil
}

func (d *HTTPDownloader) fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			d.log.Warn("Failed to close response body for %s: %v", url, closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", destPath, err)
	}

	// Hide ReadFrom so the copy goes through the fixed-size buffer.
	_, copyErr := io.CopyBuffer(struct{ io.Writer }{out}, resp.Body, make([]byte, chunkSize))
	closeErr := out.Close()

	if copyErr != nil {
		return fmt.Errorf("failed to write file '%s': %w", destPath, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close file '%s': %w", destPath, closeErr)
	}

	return nil
}
