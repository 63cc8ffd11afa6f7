// Package emotion resolves emotion tags to the reference assets shipped with the image.
package emotion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
)

const assetExtension = ".npy"

// ErrAssetConfiguration means even the neutral reference is missing.
// This is a deployment defect, not a problem with the job.
var ErrAssetConfiguration = errors.New("emotion reference assets missing")

// AssetError carries the response message for a missing neutral asset.
type AssetError struct {
	Path string
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("Neutral emotion file not found at %s. Critical emotion files missing.", e.Path)
}

// Unwrap lets errors.Is match ErrAssetConfiguration.
func (e *AssetError) Unwrap() error {
	return ErrAssetConfiguration
}

// Resolver looks up <dir>/<tag>.npy with a mandatory neutral fallback.
type Resolver struct {
	dir string
	log *logger.Logger
}

// NewResolver creates a Resolver rooted at dir.
func NewResolver(dir string, log *logger.Logger) *Resolver {
	return &Resolver{dir: dir, log: log}
}

// Resolve returns the reference path for tag and whether the neutral fallback was used.
func (r *Resolver) Resolve(tag string) (string, bool, error) {
	if validTag(tag) {
		path := r.pathFor(tag)
		if exists(path) {
			return path, false, nil
		}

		r.log.Warn("Emotion file %s not found. Falling back to neutral.", path)
	} else {
		r.log.Warn("Emotion tag %q is not a valid asset name. Falling back to neutral.", tag)
	}

	neutral := r.pathFor(core.DefaultEmotion)
	if !exists(neutral) {
		return "", true, &AssetError{Path: neutral}
	}

	return neutral, true, nil
}

func (r *Resolver) pathFor(tag string) string {
	return filepath.Join(r.dir, tag+assetExtension)
}

// Tags are file stems; anything that could escape the asset directory is rejected.
func validTag(tag string) bool {
	if tag == "" || tag == "." || tag == ".." {
		return false
	}

	return !strings.ContainsAny(tag, `/\`) && !strings.Contains(tag, "..")
}

func exists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
