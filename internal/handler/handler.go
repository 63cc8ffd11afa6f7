// Package handler runs one talking-head job from input URLs to a published video.
//
// The flow is linear: validate, download inputs, resolve the emotion reference,
// preprocess, optionally crop, synthesize, publish. Every failure short-circuits
// to an error result; nothing is retried. All intermediate files live in one
// temporary directory that is removed on every exit path.
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/google/uuid"
)

// Response messages.
const (
	msgMissingInput      = "Missing image_url or audio_url in input"
	msgFmtDownloadImage  = "Failed to download image from %s"
	msgFmtDownloadAudio  = "Failed to download audio from %s"
	msgFmtPreprocessing  = "Error during face preprocessing: %s"
	msgFmtCrop           = "Error during face cropping: %v"
	msgFmtSynthesis      = "Error during DICE-Talk processing: %v"
	msgOutputMissing     = "Output video not generated."
	msgFmtPublish        = "Error publishing video: %v"
	msgFmtWorkDir        = "Failed to prepare working directory: %v"
	msgUnknownPreprocess = "Unknown error"
)

// Failure kinds, matched with errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid job input")
	ErrDownload      = errors.New("input download failed")
	ErrPreprocessing = errors.New("face preprocessing failed")
	ErrSynthesis     = errors.New("synthesis failed")
	ErrPublish       = errors.New("publishing failed")
	ErrInternal      = errors.New("internal error")
)

// StageError carries the message returned to the caller and the failure kind.
type StageError struct {
	Kind    error
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return e.Message
}

// Is reports whether target is the failure kind.
func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(kind error, cause error, message string) *StageError {
	return &StageError{Kind: kind, Message: message, Err: cause}
}

// Settings are the fixed synthesis parameters not exposed to job input.
type Settings struct {
	WorkDir        string
	MinResolution  int
	InferenceSteps int
	ExpandRatio    float64
}

// DefaultSettings mirrors the reference demo configuration.
func DefaultSettings() Settings {
	return Settings{
		WorkDir:        "",
		MinResolution:  512,
		InferenceSteps: 25,
		ExpandRatio:    0.5,
	}
}

// Handler orchestrates one job at a time against shared collaborators.
type Handler struct {
	downloader core.Downloader
	pipeline   core.Pipeline
	emotions   core.EmotionResolver
	sink       core.OutputSink
	settings   Settings
	log        *logger.Logger
}

// New creates a Handler.
func New(
	downloader core.Downloader,
	pipeline core.Pipeline,
	emotions core.EmotionResolver,
	sink core.OutputSink,
	settings Settings,
	log *logger.Logger,
) *Handler {
	return &Handler{
		downloader: downloader,
		pipeline:   pipeline,
		emotions:   emotions,
		sink:       sink,
		settings:   settings,
		log:        log,
	}
}

// Handle runs the job and always returns a result; failures become {"error": msg}.
// Panics raised by collaborators are recovered here as well.
func (h *Handler) Handle(ctx context.Context, input core.JobInput) (result core.Result) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}

		h.log.Error("Panic during DICE-Talk processing: %v\n%s", recovered, debug.Stack())
		result = core.ErrorResult(fmt.Sprintf(msgFmtSynthesis, recovered))
	}()

	result, err := h.run(ctx, input)
	if err != nil {
		h.log.Error("Job failed: %v", describe(err))

		return core.ErrorResult(err.Error())
	}

	return result
}

func (h *Handler) run(ctx context.Context, input core.JobInput) (core.Result, error) {
	if input.ImageURL == "" || input.AudioURL == "" {
		return core.Result{}, fail(ErrInvalidInput, nil, msgMissingInput)
	}

	tmpDir, err := os.MkdirTemp(h.settings.WorkDir, "talkinghead-job-*")
	if err != nil {
		return core.Result{}, fail(ErrInternal, err, fmt.Sprintf(msgFmtWorkDir, err))
	}

	defer func() {
		removeErr := os.RemoveAll(tmpDir)
		if removeErr != nil {
			h.log.Warn("Failed to remove working directory '%s': %v", tmpDir, removeErr)
		}
	}()

	imagePath := filepath.Join(tmpDir, "input_image_"+token()+".png")
	audioPath := filepath.Join(tmpDir, "input_audio_"+token()+".wav")
	outputPath := filepath.Join(tmpDir, "output_video_"+token()+".mp4")

	err = h.downloadInputs(ctx, input, imagePath, audioPath)
	if err != nil {
		return core.Result{}, err
	}

	emotionPath, fellBack, err := h.emotions.Resolve(input.EmotionOrDefault())
	if err != nil {
		return core.Result{}, err
	}

	if fellBack {
		h.log.Info("Emotion %q unavailable, using %s", input.EmotionOrDefault(), emotionPath)
	}

	h.log.Info("Processing with DICE-Talk: image='%s', audio='%s', emotion='%s'", imagePath, audioPath, emotionPath)

	processedImage, err := h.prepareImage(ctx, input.Crop, imagePath, tmpDir)
	if err != nil {
		return core.Result{}, err
	}

	err = h.synthesize(ctx, core.SynthesisParams{
		ImagePath:      processedImage,
		AudioPath:      audioPath,
		EmotionPath:    emotionPath,
		OutputPath:     outputPath,
		MinResolution:  h.settings.MinResolution,
		InferenceSteps: h.settings.InferenceSteps,
		RefScale:       input.RefScaleOrDefault(),
		EmoScale:       input.EmoScaleOrDefault(),
		Seed:           input.Seed,
	})
	if err != nil {
		return core.Result{}, err
	}

	result, err := h.sink.Publish(ctx, outputPath)
	if err != nil {
		return core.Result{}, fail(ErrPublish, err, fmt.Sprintf(msgFmtPublish, err))
	}

	return result, nil
}

func (h *Handler) downloadInputs(ctx context.Context, input core.JobInput, imagePath, audioPath string) error {
	h.log.Info("Downloading image from: %s", input.ImageURL)

	_, err := h.downloader.Download(ctx, input.ImageURL, imagePath)
	if err != nil {
		return fail(ErrDownload, err, fmt.Sprintf(msgFmtDownloadImage, input.ImageURL))
	}

	h.log.Info("Downloading audio from: %s", input.AudioURL)

	_, err = h.downloader.Download(ctx, input.AudioURL, audioPath)
	if err != nil {
		return fail(ErrDownload, err, fmt.Sprintf(msgFmtDownloadAudio, input.AudioURL))
	}

	return nil
}

// prepareImage applies the face-count policy and returns the image to synthesize from.
func (h *Handler) prepareImage(ctx context.Context, crop bool, imagePath, tmpDir string) (string, error) {
	faceInfo, err := h.pipeline.Preprocess(ctx, imagePath, h.settings.ExpandRatio)
	if err != nil {
		return "", fail(ErrPreprocessing, err, fmt.Sprintf(msgFmtPreprocessing, err.Error()))
	}

	h.log.Info("Face info: faces=%d bbox=%v", faceInfo.FaceNum, faceInfo.CropBBox)

	switch {
	case faceInfo.FaceNum > 0:
		if !crop {
			return imagePath, nil
		}

		croppedPath := filepath.Join(tmpDir, "input_image_cropped_"+token()+".png")

		err = h.pipeline.CropImage(ctx, imagePath, croppedPath, faceInfo.CropBBox)
		if err != nil {
			return "", fail(ErrPreprocessing, err, fmt.Sprintf(msgFmtCrop, err))
		}

		h.log.Info("Cropped image saved to: %s", croppedPath)

		return croppedPath, nil
	case faceInfo.FaceNum == 0:
		h.log.Warn("No face detected in the image. Proceeding with the original image.")

		return imagePath, nil
	default:
		message := faceInfo.ErrorMessage
		if message == "" {
			message = msgUnknownPreprocess
		}

		return "", fail(ErrPreprocessing, nil, fmt.Sprintf(msgFmtPreprocessing, message))
	}
}

func (h *Handler) synthesize(ctx context.Context, params core.SynthesisParams) error {
	err := h.pipeline.Process(ctx, params)
	if err != nil {
		return fail(ErrSynthesis, err, fmt.Sprintf(msgFmtSynthesis, err))
	}

	info, err := os.Stat(params.OutputPath)
	if err != nil || info.Size() == 0 {
		return fail(ErrSynthesis, err, msgOutputMissing)
	}

	h.log.Info("Output video generated: %s (%d bytes)", params.OutputPath, info.Size())

	return nil
}

// describe adds the underlying cause to the log line when it differs from the message.
func describe(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Err != nil {
		return stageErr.Message + " (" + stageErr.Err.Error() + ")"
	}

	return err.Error()
}

func token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
