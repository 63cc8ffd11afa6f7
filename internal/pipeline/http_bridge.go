package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/talkinghead-service/internal/core"
)

// API endpoints and paths.
const (
	apiPreprocess = "/v1/preprocess"
	apiCrop       = "/v1/crop"
	apiProcess    = "/v1/process"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "pipeline service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "pipeline service returned non-OK status: %s, body: %s"
)

// HTTPBridge implements core.Pipeline against a sidecar HTTP service that
// shares the worker's filesystem. Paths are sent as-is.
type HTTPBridge struct {
	httpClient *http.Client
	baseURL    string
}

// PreprocessRequest is the body of POST /v1/preprocess.
type PreprocessRequest struct {
	ImagePath   string  `json:"image_path"`
	ExpandRatio float64 `json:"expand_ratio"`
}

// CropRequest is the body of POST /v1/crop.
type CropRequest struct {
	SrcPath  string           `json:"src_path"`
	DstPath  string           `json:"dst_path"`
	CropBBox core.BoundingBox `json:"crop_bbox"`
}

// ProcessRequest is the body of POST /v1/process.
type ProcessRequest struct {
	ImagePath      string  `json:"image_path"`
	AudioPath      string  `json:"audio_path"`
	EmotionPath    string  `json:"emotion_path"`
	OutputPath     string  `json:"output_path"`
	MinResolution  int     `json:"min_resolution"`
	InferenceSteps int     `json:"inference_steps"`
	RefScale       float64 `json:"ref_scale"`
	EmoScale       float64 `json:"emo_scale"`
	Seed           *int64  `json:"seed,omitempty"`
}

// ErrorResponse represents a structured error response from the pipeline service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPBridge creates a bridge for the service at baseURL (e.g. "http://127.0.0.1:8000").
func NewHTTPBridge(baseURL string, timeout time.Duration) *HTTPBridge {
	return &HTTPBridge{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Preprocess runs face detection on imagePath.
func (c *HTTPBridge) Preprocess(ctx context.Context, imagePath string, expandRatio float64) (core.FaceInfo, error) {
	var info core.FaceInfo

	err := c.post(ctx, apiPreprocess, PreprocessRequest{
		ImagePath:   imagePath,
		ExpandRatio: expandRatio,
	}, &info)
	if err != nil {
		return core.FaceInfo{}, err
	}

	return info, nil
}

// CropImage writes the bbox region of srcPath to dstPath.
func (c *HTTPBridge) CropImage(ctx context.Context, srcPath, dstPath string, bbox core.BoundingBox) error {
	return c.post(ctx, apiCrop, CropRequest{
		SrcPath:  srcPath,
		DstPath:  dstPath,
		CropBBox: bbox,
	}, nil)
}

// Process runs the synthesis and writes the video to params.OutputPath.
func (c *HTTPBridge) Process(ctx context.Context, params core.SynthesisParams) error {
	return c.post(ctx, apiProcess, ProcessRequest{
		ImagePath:      params.ImagePath,
		AudioPath:      params.AudioPath,
		EmotionPath:    params.EmotionPath,
		OutputPath:     params.OutputPath,
		MinResolution:  params.MinResolution,
		InferenceSteps: params.InferenceSteps,
		RefScale:       params.RefScale,
		EmoScale:       params.EmoScale,
		Seed:           params.Seed,
	}, nil)
}

// HealthCheck verifies that the pipeline service is running and has its model loaded.
func (c *HTTPBridge) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPBridge) post(ctx context.Context, path string, body, target any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to pipeline service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	if target == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// parseErrorResponse prefers the structured error body and falls back to the raw text.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
