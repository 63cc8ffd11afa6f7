package core

import (
	"github.com/book-expert/events"
)

// Defaults applied to optional job fields.
const (
	DefaultEmotion  = "neutral"
	DefaultRefScale = 3.0
	DefaultEmoScale = 6.0
)

// JobInput is the caller-supplied description of one synthesis job.
// Optional numeric fields are pointers so that an explicit zero survives decoding.
type JobInput struct {
	ImageURL string   `json:"image_url"`
	AudioURL string   `json:"audio_url"`
	Emotion  string   `json:"emotion,omitempty"`
	RefScale *float64 `json:"ref_scale,omitempty"`
	EmoScale *float64 `json:"emo_scale,omitempty"`
	Crop     bool     `json:"crop,omitempty"`
	Seed     *int64   `json:"seed,omitempty"`
}

// EmotionOrDefault returns the requested emotion tag, or "neutral".
func (j JobInput) EmotionOrDefault() string {
	if j.Emotion == "" {
		return DefaultEmotion
	}

	return j.Emotion
}

// RefScaleOrDefault returns ref_scale, or 3.0 when unset.
func (j JobInput) RefScaleOrDefault() float64 {
	if j.RefScale == nil {
		return DefaultRefScale
	}

	return *j.RefScale
}

// EmoScaleOrDefault returns emo_scale, or 6.0 when unset.
func (j JobInput) EmoScaleOrDefault() float64 {
	if j.EmoScale == nil {
		return DefaultEmoScale
	}

	return *j.EmoScale
}

// JobRequest is the envelope carried by the job transports.
type JobRequest struct {
	ID     string             `json:"id,omitempty"`
	Header events.EventHeader `json:"header"`
	Input  JobInput           `json:"input"`
}

// JobReply is the envelope returned by the job transports.
type JobReply struct {
	ID     string             `json:"id"`
	Header events.EventHeader `json:"header"`
	Status JobStatus          `json:"status"`
	Output Result             `json:"output"`
}

// JobStatus is the terminal state reported for a job.
type JobStatus string

// Terminal job states.
const (
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// BoundingBox is a crop rectangle as [x1, y1, x2, y2] in pixels.
type BoundingBox [4]int

// FaceInfo is the preprocessing result for an input image.
// FaceNum > 0 means faces were detected, 0 means none, < 0 means the pipeline failed.
type FaceInfo struct {
	FaceNum      int         `json:"face_num"`
	CropBBox     BoundingBox `json:"crop_bbox"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// SynthesisParams are passed through to the pipeline's process call.
type SynthesisParams struct {
	ImagePath      string
	AudioPath      string
	EmotionPath    string
	OutputPath     string
	MinResolution  int
	InferenceSteps int
	RefScale       float64
	EmoScale       float64
	Seed           *int64
}

// Result is the response envelope of a job. Exactly one of Error or the
// success fields is populated.
type Result struct {
	Error           string `json:"error,omitempty"`
	OutputVideoPath string `json:"output_video_path,omitempty"`
	VideoURL        string `json:"video_url,omitempty"`
	VideoKey        string `json:"video_key,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ErrorResult builds a failure result.
func ErrorResult(message string) Result {
	return Result{Error: message}
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Status maps the result to its terminal job state.
func (r Result) Status() JobStatus {
	if r.Failed() {
		return StatusFailed
	}

	return StatusCompleted
}
