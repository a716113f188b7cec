// Package audio captures microphone audio in the relay wire format and
// schedules gapless playback of interviewer audio.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Wire format for audio in both directions: 24kHz mono 16-bit little endian PCM.
const (
	SampleRate     = 24000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8

	DefaultChunkDuration = 100 * time.Millisecond
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Format describes interleaved signed 16-bit little endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// WireFormat is the format exchanged with the relay.
var WireFormat = Format{SampleRate: SampleRate, Channels: Channels}

func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedFormat, f.SampleRate, f.Channels)
	}
	return nil
}

// FrameBytes is the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/s16le", f.SampleRate, f.Channels)
}

// ChunkBytes returns the wire-format byte length of d, rounded down to whole
// samples.
func ChunkBytes(d time.Duration) int {
	samples := int(int64(d) * SampleRate / int64(time.Second))
	return samples * BytesPerSample
}

// Duration returns the playback length of n bytes of wire-format PCM.
func Duration(n int) time.Duration {
	samples := int64(n / BytesPerSample)
	return time.Duration(samples * int64(time.Second) / SampleRate)
}

// Position returns the timeline position of the sample at index n, rounded up
// so that ChunkBytes(Position(n)) is exactly n samples.
func Position(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration((n*int64(time.Second) + SampleRate - 1) / SampleRate)
}

// Samples returns the index of the first whole sample at or after d.
func Samples(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return (int64(d)*SampleRate + int64(time.Second) - 1) / int64(time.Second)
}
