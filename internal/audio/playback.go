package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports the audio device's playback position.
type Clock interface {
	Now() time.Duration
}

// Sink plays PCM at a position on its Clock's timeline.
type Sink interface {
	Schedule(at time.Duration, pcm []byte) error
	// Stop discards everything scheduled and not yet played.
	Stop()
}

// Player schedules wire-format chunks back to back on the audio clock. Each
// chunk starts exactly where the previous one ends, or now if the device has
// already played past that point. The cursor is kept in samples and converted
// to a timeline position only when talking to the Sink and Clock.
type Player struct {
	mu     sync.Mutex
	clock  Clock
	sink   Sink
	cursor int64
}

func NewPlayer(clock Clock, sink Sink) *Player {
	return &Player{clock: clock, sink: sink}
}

// Enqueue schedules pcm and returns its start position. A trailing odd byte is
// ignored.
func (p *Player) Enqueue(pcm []byte) (time.Duration, error) {
	pcm = pcm[:len(pcm)-len(pcm)%BytesPerSample]

	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.cursor
	if now := Samples(p.clock.Now()); now > start {
		start = now
	}
	at := Position(start)
	if len(pcm) == 0 {
		return at, nil
	}
	if err := p.sink.Schedule(at, pcm); err != nil {
		return at, err
	}
	p.cursor = start + int64(len(pcm)/BytesPerSample)
	return at, nil
}

// Cursor is the position at which the next chunk would start if the device
// has not caught up.
func (p *Player) Cursor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Position(p.cursor)
}

// Reset stops playback and rewinds the cursor.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink.Stop()
	p.cursor = 0
}

// SampleClock is a Clock driven by the number of samples the device has
// consumed.
type SampleClock struct {
	rate    int64
	samples atomic.Int64
}

func NewSampleClock(rate int) *SampleClock {
	if rate <= 0 {
		rate = SampleRate
	}
	return &SampleClock{rate: int64(rate)}
}

// Advance records n more samples played.
func (c *SampleClock) Advance(n int) {
	c.samples.Add(int64(n))
}

func (c *SampleClock) Now() time.Duration {
	return time.Duration(c.samples.Load() * int64(time.Second) / c.rate)
}
