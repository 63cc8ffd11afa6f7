package core_test

import (
	"encoding/json"
	"testing"

	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobInput_UnmarshalCoercesOptionalFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		refScale float64
		emoScale float64
		crop     bool
		seed     *int64
	}{
		{
			name:     "native types",
			payload:  `{"ref_scale": 2.5, "emo_scale": 4, "crop": true, "seed": 42}`,
			refScale: 2.5,
			emoScale: 4,
			crop:     true,
			seed:     int64Ptr(42),
		},
		{
			name:     "string spellings",
			payload:  `{"ref_scale": "3.5", "emo_scale": " 7 ", "crop": "true", "seed": "42"}`,
			refScale: 3.5,
			emoScale: 7,
			crop:     true,
			seed:     int64Ptr(42),
		},
		{
			name:     "numeric crop and fractional seed",
			payload:  `{"crop": 1, "seed": 9.8}`,
			refScale: core.DefaultRefScale,
			emoScale: core.DefaultEmoScale,
			crop:     true,
			seed:     int64Ptr(9),
		},
		{
			name:     "absent and null fields keep defaults",
			payload:  `{"ref_scale": null, "crop": "0", "seed": null}`,
			refScale: core.DefaultRefScale,
			emoScale: core.DefaultEmoScale,
			crop:     false,
			seed:     nil,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var input core.JobInput
			require.NoError(t, json.Unmarshal([]byte(testCase.payload), &input))

			assert.InEpsilon(t, testCase.refScale, input.RefScaleOrDefault(), 0.001)
			assert.InEpsilon(t, testCase.emoScale, input.EmoScaleOrDefault(), 0.001)
			assert.Equal(t, testCase.crop, input.Crop)
			assert.Equal(t, testCase.seed, input.Seed)
		})
	}
}

func TestJobInput_UnmarshalKeepsStringFields(t *testing.T) {
	t.Parallel()

	var request core.JobRequest
	require.NoError(t, json.Unmarshal([]byte(
		`{"id":"j1","input":{"image_url":"https://a/face.png","audio_url":"https://a/v.wav","emotion":"happy"}}`,
	), &request))

	assert.Equal(t, "https://a/face.png", request.Input.ImageURL)
	assert.Equal(t, "https://a/v.wav", request.Input.AudioURL)
	assert.Equal(t, "happy", request.Input.EmotionOrDefault())
}

func TestJobInput_UnmarshalRejectsUncoercibleValues(t *testing.T) {
	t.Parallel()

	payloads := []string{
		`{"ref_scale": "loud"}`,
		`{"emo_scale": "NaN"}`,
		`{"seed": "4.5"}`,
		`{"seed": "abc"}`,
		`{"crop": "maybe"}`,
		`{"crop": [true]}`,
	}

	for _, payload := range payloads {
		var input core.JobInput

		err := json.Unmarshal([]byte(payload), &input)
		require.ErrorIs(t, err, core.ErrInvalidField, payload)
	}
}

func int64Ptr(value int64) *int64 {
	return &value
}
