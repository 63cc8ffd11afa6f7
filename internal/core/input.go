package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidField reports an optional job field whose value cannot be coerced.
var ErrInvalidField = errors.New("invalid job field")

var jsonNull = []byte("null")

// UnmarshalJSON decodes a job input, accepting numbers, booleans, and their
// string spellings for the optional tuning fields.
func (j *JobInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ImageURL string          `json:"image_url"`
		AudioURL string          `json:"audio_url"`
		Emotion  string          `json:"emotion"`
		RefScale json.RawMessage `json:"ref_scale"`
		EmoScale json.RawMessage `json:"emo_scale"`
		Crop     json.RawMessage `json:"crop"`
		Seed     json.RawMessage `json:"seed"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	input := JobInput{ImageURL: raw.ImageURL, AudioURL: raw.AudioURL, Emotion: raw.Emotion}

	input.RefScale, err = decodeFloat("ref_scale", raw.RefScale)
	if err != nil {
		return err
	}

	input.EmoScale, err = decodeFloat("emo_scale", raw.EmoScale)
	if err != nil {
		return err
	}

	input.Crop, err = decodeBool("crop", raw.Crop)
	if err != nil {
		return err
	}

	input.Seed, err = decodeInt("seed", raw.Seed)
	if err != nil {
		return err
	}

	*j = input

	return nil
}

// scalar returns the literal text of a JSON number or string, or "" for absent/null.
func scalar(field string, value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, jsonNull) {
		return "", nil
	}

	if value[0] == '"' {
		var text string

		err := json.Unmarshal(value, &text)
		if err != nil {
			return "", fmt.Errorf("%w %s: %w", ErrInvalidField, field, err)
		}

		return strings.TrimSpace(text), nil
	}

	return string(value), nil
}

func decodeFloat(field string, value json.RawMessage) (*float64, error) {
	text, err := scalar(field, value)
	if err != nil || text == "" {
		return nil, err
	}

	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil, fmt.Errorf("%w %s: %q is not a number", ErrInvalidField, field, text)
	}

	return &parsed, nil
}

// decodeInt accepts integers, integer strings, and JSON numbers with a fraction, which are truncated.
func decodeInt(field string, value json.RawMessage) (*int64, error) {
	text, err := scalar(field, value)
	if err != nil || text == "" {
		return nil, err
	}

	parsed, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		return &parsed, nil
	}

	isString := bytes.HasPrefix(bytes.TrimSpace(value), []byte(`"`))

	asFloat, floatErr := strconv.ParseFloat(text, 64)
	if isString || floatErr != nil || math.Abs(asFloat) >= math.MaxInt64 || math.IsNaN(asFloat) {
		return nil, fmt.Errorf("%w %s: %q is not an integer", ErrInvalidField, field, text)
	}

	truncated := int64(asFloat)

	return &truncated, nil
}

// decodeBool accepts JSON booleans, "true"/"false"/"1"/"0" strings, and numbers (non-zero is true).
func decodeBool(field string, value json.RawMessage) (bool, error) {
	text, err := scalar(field, value)
	if err != nil || text == "" {
		return false, err
	}

	parsed, err := strconv.ParseBool(text)
	if err == nil {
		return parsed, nil
	}

	number, numErr := strconv.ParseFloat(text, 64)
	if numErr != nil {
		return false, fmt.Errorf("%w %s: %q is not a boolean", ErrInvalidField, field, text)
	}

	return number != 0, nil
}
