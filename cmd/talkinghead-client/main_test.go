package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseArgs(t *testing.T, args ...string) appFlags {
	t.Helper()

	return parseFlags(flag.NewFlagSet(t.Name(), flag.ContinueOnError), args)
}

// TestArgumentValidation verifies the required URL arguments.
func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{
			name:    "both urls",
			args:    []string{"--image-url", "https://a/face.png", "--audio-url", "https://a/v.wav"},
			wantErr: false,
		},
		{
			name:    "missing audio",
			args:    []string{"--image-url", "https://a/face.png"},
			wantErr: true,
		},
		{
			name:    "missing image",
			args:    []string{"--audio-url", "https://a/v.wav"},
			wantErr: true,
		},
		{
			name:    "no flags",
			args:    nil,
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(parseArgs(t, testCase.args...))
			if testCase.wantErr {
				require.EqualError(t, err, errMissingURLs)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestBuildRequest_Defaults(t *testing.T) {
	t.Parallel()

	flags := parseArgs(t, "--image-url", "https://a/face.png", "--audio-url", "https://a/v.wav")
	request := buildRequest(flags)

	assert.NotEmpty(t, request.ID)
	assert.Equal(t, request.ID, request.Header.WorkflowID)
	assert.Equal(t, "neutral", request.Input.Emotion)
	require.NotNil(t, request.Input.RefScale)
	assert.InEpsilon(t, 3.0, *request.Input.RefScale, 0.001)
	require.NotNil(t, request.Input.EmoScale)
	assert.InEpsilon(t, 6.0, *request.Input.EmoScale, 0.001)
	assert.False(t, request.Input.Crop)
	assert.Nil(t, request.Input.Seed, "the default seed means no seed")
}

func TestBuildRequest_Overrides(t *testing.T) {
	t.Parallel()

	flags := parseArgs(t,
		"--image-url", "https://a/face.png",
		"--audio-url", "https://a/v.wav",
		"--emotion", "happy",
		"--crop",
		"--seed", "7",
		"--ref-scale", "2.5",
	)
	request := buildRequest(flags)

	assert.Equal(t, "happy", request.Input.Emotion)
	assert.True(t, request.Input.Crop)
	require.NotNil(t, request.Input.Seed)
	assert.Equal(t, int64(7), *request.Input.Seed)
	assert.InEpsilon(t, 2.5, *request.Input.RefScale, 0.001)
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
[nats]
url = "nats://queue:4222"
job_subject = "dice.jobs"
`), 0o600))

	natsURL, subject, err := resolveTarget(parseArgs(t, "--config", configPath))
	require.NoError(t, err)
	assert.Equal(t, "nats://queue:4222", natsURL)
	assert.Equal(t, "dice.jobs", subject)

	natsURL, _, err = resolveTarget(parseArgs(t, "--config", configPath, "--nats-url", "nats://other:4222"))
	require.NoError(t, err)
	assert.Equal(t, "nats://other:4222", natsURL)

	natsURL, subject, err = resolveTarget(parseArgs(t))
	require.NoError(t, err)
	assert.Equal(t, defaultNATSURL, natsURL)
	assert.Equal(t, "talkinghead.jobs", subject)
}
