package audio

import (
	"context"
	"io"
)

// Microphone is an audio input device. Open fails with ErrPermissionDenied
// when access to the device is refused.
type Microphone interface {
	Open(ctx context.Context) (InputStream, error)
}

// InputStream yields raw PCM in its Format until closed. Close releases the
// device and unblocks a pending Read.
type InputStream interface {
	io.ReadCloser
	Format() Format
}
