package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// ReadWAVHeader parses a RIFF/WAVE header and leaves r positioned at the start
// of the sample data. Only 16-bit PCM is accepted.
func ReadWAVHeader(r io.Reader) (Format, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, 0, fmt.Errorf("read WAV header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("%w: not a WAV file", ErrUnsupportedFormat)
	}

	var (
		format    Format
		sawFormat bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, 0, fmt.Errorf("read WAV chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			sampleRate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != wavFormatPCM || bits != BitsPerSample {
				return Format{}, 0, fmt.Errorf("%w: format=%d bits=%d, need 16-bit PCM",
					ErrUnsupportedFormat, audioFormat, bits)
			}
			format = Format{SampleRate: int(sampleRate), Channels: int(channels)}
			sawFormat = true
		case "data":
			if !sawFormat {
				return Format{}, 0, fmt.Errorf("%w: data before fmt chunk", ErrUnsupportedFormat)
			}
			return format, size, format.Validate()
		default:
			// Chunks are padded to an even length.
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Format{}, 0, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// WAVFile is a Microphone backed by a WAV file. With Realtime set, reads are
// paced to the file's sample rate the way a live device delivers audio.
type WAVFile struct {
	Path     string
	Realtime bool
}

func (w WAVFile) Open(ctx context.Context) (InputStream, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open %s: %w", w.Path, err)
	}
	format, size, err := ReadWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &wavStream{
		f:        f,
		data:     io.LimitReader(f, size),
		format:   format,
		realtime: w.Realtime,
		start:    time.Now(),
	}, nil
}

type wavStream struct {
	f        *os.File
	data     io.Reader
	format   Format
	realtime bool
	start    time.Time
	read     int64
	close    sync.Once
}

func (s *wavStream) Format() Format { return s.format }

func (s *wavStream) Read(p []byte) (int, error) {
	if s.realtime {
		// Deliver at most 20ms per read.
		frames := s.format.SampleRate / 50
		if limit := frames * s.format.FrameBytes(); len(p) > limit {
			p = p[:limit]
		}
		played := time.Duration(s.read / int64(s.format.FrameBytes()) * int64(time.Second) / int64(s.format.SampleRate))
		if wait := played - time.Since(s.start); wait > 0 {
			time.Sleep(wait)
		}
	}
	n, err := s.data.Read(p)
	s.read += int64(n)
	return n, err
}

func (s *wavStream) Close() error {
	var err error
	s.close.Do(func() { err = s.f.Close() })
	return err
}

// WAVWriter records scheduled playback into a wire-format WAV file. It is
// both the Sink and the Clock: the device position is the end of what has been
// written, and gaps on the timeline are filled with silence.
type WAVWriter struct {
	mu      sync.Mutex
	w       io.WriteSeeker
	written int64
}

// NewWAVWriter writes a placeholder header to w; Close fills in the sizes.
func NewWAVWriter(w io.WriteSeeker) (*WAVWriter, error) {
	if _, err := w.Write(wavHeader(0)); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	return &WAVWriter{w: w}, nil
}

func (w *WAVWriter) Now() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Duration(int(w.written))
}

func (w *WAVWriter) Schedule(at time.Duration, pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := int64(ChunkBytes(at))
	if gap := offset - w.written; gap > 0 {
		if _, err := w.w.Write(make([]byte, gap)); err != nil {
			return err
		}
		w.written += gap
	}
	n, err := w.w.Write(pcm)
	w.written += int64(n)
	return err
}

// Stop is a no-op; recorded audio cannot be unplayed.
func (w *WAVWriter) Stop() {}

// Close patches the header with the final data size.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.w.Write(wavHeader(w.written)); err != nil {
		return err
	}
	_, err := w.w.Seek(0, io.SeekEnd)
	return err
}

func wavHeader(dataSize int64) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataSize))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], SampleRate*Channels*BytesPerSample)
	binary.LittleEndian.PutUint16(h[32:34], Channels*BytesPerSample)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataSize))
	return h
}
