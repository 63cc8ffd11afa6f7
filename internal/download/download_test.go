package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDownloader(t *testing.T) *download.HTTPDownloader {
	t.Helper()

	log, err := logger.New(t.TempDir(), "download-test.log")
	require.NoError(t, err)

	return download.New(5*time.Second, log)
}

func TestDownload_StreamsBodyToFile(t *testing.T) {
	t.Parallel()

	// Larger than one chunk so the copy loops.
	body := strings.Repeat("frame", 5000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "input_image.png")

	got, err := newDownloader(t).Download(context.Background(), server.URL+"/face.png", dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestDownload_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "input_audio.wav")

	_, err := newDownloader(t).Download(context.Background(), server.URL, dest)
	require.ErrorIs(t, err, download.ErrUnexpectedStatus)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file should be created on a failed status")
}

func TestDownload_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newDownloader(t).Download(context.Background(), url, filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
}
