package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/book-expert/talkinghead-service/internal/config"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagImageURLDesc = "URL of the portrait image"
	flagAudioURLDesc = "URL of the driving audio"
	flagEmotionDesc  = "Emotion tag (e.g. neutral, happy, angry)"
	flagRefScaleDesc = "Reference image guidance scale"
	flagEmoScaleDesc = "Emotion guidance scale"
	flagCropDesc     = "Crop the image to the detected face"
	flagSeedDesc     = "Random seed (-1 for none)"
	flagConfigDesc   = "Path to project.toml providing the NATS settings"
	flagNATSURLDesc  = "NATS server URL (overrides the config file)"
	flagTimeoutDesc  = "How long to wait for the job result"
)

// Flag names.
const (
	flagImageURL = "image-url"
	flagAudioURL = "audio-url"
	flagEmotion  = "emotion"
	flagRefScale = "ref-scale"
	flagEmoScale = "emo-scale"
	flagCrop     = "crop"
	flagSeed     = "seed"
	flagConfig   = "config"
	flagNATSURL  = "nats-url"
	flagTimeout  = "timeout"
)

// Error messages.
const (
	errMissingURLs    = "both --image-url and --audio-url must be provided"
	errFmtLoadConfig  = "failed to load configuration: %w"
	errFmtConnect     = "failed to connect to NATS at %s: %w"
	errFmtRequest     = "job request failed: %w"
	errFmtDecodeReply = "failed to decode job reply: %w"
	errFmtJobFailed   = "job %s failed: %s"
)

// Defaults.
const (
	defaultNATSURL       = nats.DefaultURL
	defaultTimeout       = 30 * time.Minute
	noSeed         int64 = -1
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	imageURL string
	audioURL string
	emotion  string
	config   string
	natsURL  string
	refScale float64
	emoScale float64
	seed     int64
	timeout  time.Duration
	crop     bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	err := validateFlags(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	natsURL, subject, err := resolveTarget(flags)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(natsURL, nats.Name("talkinghead-client"))
	if err != nil {
		return fmt.Errorf(errFmtConnect, natsURL, err)
	}
	defer natsConnection.Close()

	request := buildRequest(flags)

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal job request: %w", err)
	}

	replyMsg, err := natsConnection.Request(subject, payload, flags.timeout)
	if err != nil {
		return fmt.Errorf(errFmtRequest, err)
	}

	var reply core.JobReply

	err = json.Unmarshal(replyMsg.Data, &reply)
	if err != nil {
		return fmt.Errorf(errFmtDecodeReply, err)
	}

	encoded, _ := json.MarshalIndent(reply, "", "  ")
	fmt.Println(string(encoded))

	if reply.Output.Failed() {
		return fmt.Errorf(errFmtJobFailed, reply.ID, reply.Output.Error)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(flagSet *flag.FlagSet, args []string) appFlags {
	var flags appFlags
	flagSet.StringVar(&flags.imageURL, flagImageURL, "", flagImageURLDesc)
	flagSet.StringVar(&flags.audioURL, flagAudioURL, "", flagAudioURLDesc)
	flagSet.StringVar(&flags.emotion, flagEmotion, core.DefaultEmotion, flagEmotionDesc)
	flagSet.Float64Var(&flags.refScale, flagRefScale, core.DefaultRefScale, flagRefScaleDesc)
	flagSet.Float64Var(&flags.emoScale, flagEmoScale, core.DefaultEmoScale, flagEmoScaleDesc)
	flagSet.BoolVar(&flags.crop, flagCrop, false, flagCropDesc)
	flagSet.Int64Var(&flags.seed, flagSeed, noSeed, flagSeedDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.natsURL, flagNATSURL, "", flagNATSURLDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	_ = flagSet.Parse(args)

	return flags
}

func validateFlags(flags appFlags) error {
	if flags.imageURL == "" || flags.audioURL == "" {
		return errors.New(errMissingURLs)
	}

	return nil
}

// resolveTarget picks the NATS URL and job subject from flags and the optional config file.
func resolveTarget(flags appFlags) (string, string, error) {
	var cfg config.Config

	if flags.config != "" {
		loaded, err := config.ReadFile(flags.config)
		if err != nil {
			return "", "", fmt.Errorf(errFmtLoadConfig, err)
		}

		cfg = *loaded
	} else {
		cfg.ApplyDefaults()
	}

	natsURL := cfg.NATS.URL
	if flags.natsURL != "" {
		natsURL = flags.natsURL
	}

	if natsURL == "" {
		natsURL = defaultNATSURL
	}

	return natsURL, cfg.NATS.JobSubject, nil
}

func buildRequest(flags appFlags) core.JobRequest {
	input := core.JobInput{
		ImageURL: flags.imageURL,
		AudioURL: flags.audioURL,
		Emotion:  flags.emotion,
		RefScale: &flags.refScale,
		EmoScale: &flags.emoScale,
		Crop:     flags.crop,
	}

	if flags.seed != noSeed {
		seed := flags.seed
		input.Seed = &seed
	}

	request := core.JobRequest{ID: uuid.NewString(), Input: input}
	request.Header.Timestamp = time.Now()
	request.Header.EventID = request.ID
	request.Header.WorkflowID = request.ID

	return request
}
