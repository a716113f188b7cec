package audio

import (
	"encoding/binary"
	"math"
)

// Resampler converts interleaved s16le PCM in an arbitrary format to the wire
// format. It downmixes to mono and resamples by linear interpolation. State is
// kept across calls so consecutive frames join without discontinuities.
type Resampler struct {
	in   Format
	step float64

	pending []byte    // trailing bytes of an incomplete input frame
	carry   []float64 // mono samples not yet fully consumed
	pos     float64   // read position relative to carry[0]
}

func NewResampler(in Format) (*Resampler, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &Resampler{
		in:   in,
		step: float64(in.SampleRate) / float64(SampleRate),
	}, nil
}

// Process converts pcm and returns the wire-format samples that are ready.
func (r *Resampler) Process(pcm []byte) []byte {
	mono := r.downmix(pcm)
	if r.in.SampleRate == SampleRate {
		return encode(mono)
	}

	buf := append(r.carry, mono...)
	out := make([]float64, 0, int(float64(len(buf))/r.step)+1)
	for r.pos+1 < float64(len(buf)) {
		i := int(r.pos)
		frac := r.pos - float64(i)
		out = append(out, buf[i]*(1-frac)+buf[i+1]*frac)
		r.pos += r.step
	}

	consumed := int(r.pos)
	if consumed > len(buf) {
		consumed = len(buf)
	}
	r.carry = append(r.carry[:0:0], buf[consumed:]...)
	r.pos -= float64(consumed)
	return encode(out)
}

// Flush emits any samples held back for interpolation and resets the state.
func (r *Resampler) Flush() []byte {
	var out []float64
	for r.pos < float64(len(r.carry)) {
		out = append(out, r.carry[int(r.pos)])
		r.pos += r.step
	}
	r.carry = nil
	r.pending = nil
	r.pos = 0
	return encode(out)
}

func (r *Resampler) downmix(pcm []byte) []float64 {
	frameBytes := r.in.FrameBytes()
	if len(r.pending) > 0 {
		pcm = append(r.pending, pcm...)
		r.pending = nil
	}
	whole := len(pcm) - len(pcm)%frameBytes
	if whole < len(pcm) {
		r.pending = append([]byte(nil), pcm[whole:]...)
	}

	frames := whole / frameBytes
	mono := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		base := f * frameBytes
		for c := 0; c < r.in.Channels; c++ {
			off := base + c*BytesPerSample
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		mono[f] = sum / float64(r.in.Channels)
	}
	return mono
}

func encode(samples []float64) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(s)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}
