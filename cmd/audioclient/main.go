package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/raihanakbr/realtime-interview-relay/internal/audio"
	"github.com/raihanakbr/realtime-interview-relay/internal/client"
	"github.com/raihanakbr/realtime-interview-relay/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		relayURL  string
		jobTitle  string
		audioFile string
		outFile   string
		duration  time.Duration
		logLevel  string
	)

	var root = &cobra.Command{
		Use:   "audioclient",
		Short: "Run an interview against the relay using a WAV file as the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.Config{Level: logLevel, Format: "console"})
			return run(relayURL, jobTitle, audioFile, outFile, duration)
		},
	}

	root.Flags().StringVar(&relayURL, "relay", "ws://localhost:8080/ws", "relay websocket URL")
	root.Flags().StringVar(&jobTitle, "job-title", "Software Engineer", "job title to interview for")
	root.Flags().StringVar(&audioFile, "audio", "", "16-bit PCM WAV file streamed as the candidate (required)")
	root.Flags().StringVar(&outFile, "out", "", "write the interviewer's audio to this WAV file")
	root.Flags().DurationVar(&duration, "duration", 2*time.Minute, "end the interview after this long")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	_ = root.MarkFlagRequired("audio")
	return root
}

func run(relayURL, jobTitle, audioFile, outFile string, duration time.Duration) error {
	opts := client.Options{
		RelayURL:   relayURL,
		Microphone: audio.WAVFile{Path: audioFile, Realtime: true},
	}

	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("create %s: %w", outFile, err)
		}
		defer f.Close()
		w, err := audio.NewWAVWriter(f)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to finish WAV file")
			}
		}()
		opts.Sink = w
		opts.Clock = w
	}

	ended := make(chan struct{})
	var printed int
	opts.OnUpdate = func(s client.Snapshot) {
		for ; printed < len(s.Transcript); printed++ {
			e := s.Transcript[printed]
			fmt.Printf("[%s] %-11s %s\n", e.Timestamp.Format("15:04:05"), e.Role, e.Content)
		}
		if s.Phase == client.PhaseEnded {
			select {
			case <-ended:
			default:
				close(ended)
			}
		}
	}
	opts.OnNotice = func(n client.Notice) {
		fmt.Fprintf(os.Stderr, "! %s: %s\n", n.Kind, n.Message)
	}

	session := client.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx, jobTitle); err != nil {
		if errors.Is(err, client.ErrMicrophonePermission) {
			return fmt.Errorf("cannot read %s: %w", audioFile, err)
		}
		return err
	}

	select {
	case <-ctx.Done():
	case <-ended:
	case <-time.After(duration):
	}

	snap := session.Snapshot()
	session.End()

	if snap.Score == nil {
		fmt.Println("Interview ended without a score.")
		return nil
	}
	out, err := json.MarshalIndent(snap.Score, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Score:\n%s\n", out)
	return nil
}
