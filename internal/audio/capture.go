package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/raihanakbr/realtime-interview-relay/internal/logging"
)

const readBufferSize = 8192

// Capture turns a microphone stream into base64 wire-format chunks.
type Capture struct {
	ChunkDuration time.Duration
	log           zerolog.Logger
}

func NewCapture(chunkDuration time.Duration) *Capture {
	if chunkDuration <= 0 {
		chunkDuration = DefaultChunkDuration
	}
	return &Capture{
		ChunkDuration: chunkDuration,
		log:           logging.WithComponent("audio-capture"),
	}
}

// Run reads stream until EOF or ctx is done, handing each encoded chunk to
// emit in order. The trailing partial chunk is emitted on EOF. Cancelling ctx
// closes the stream. An error from emit stops capture and is returned.
func (c *Capture) Run(ctx context.Context, stream InputStream, emit func(chunk string) error) error {
	resampler, err := NewResampler(stream.Format())
	if err != nil {
		return err
	}
	chunker := NewChunker(ChunkBytes(c.ChunkDuration))

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	send := func(chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return emit(base64.StdEncoding.EncodeToString(chunk))
	}

	c.log.Debug().Str("format", stream.Format().String()).Int("chunkBytes", chunker.Size()).Msg("Capture started")

	var chunks int
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			for _, chunk := range chunker.Write(resampler.Process(buf[:n])) {
				if err := send(chunk); err != nil {
					return err
				}
				chunks++
			}
		}
		if readErr == nil {
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read microphone: %w", readErr)
		}

		for _, chunk := range chunker.Write(resampler.Flush()) {
			if err := send(chunk); err != nil {
				return err
			}
			chunks++
		}
		if err := send(chunker.Flush()); err != nil {
			return err
		}
		c.log.Debug().Int("chunks", chunks).Msg("Capture reached end of stream")
		return nil
	}
}
