// Package encode turns raw JPEG frames into the inline data URIs the
// vision model accepts.
package encode

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wildscope/wildscope/internal/media"
)

const uriPrefix = "data:image/jpeg;base64,"

// Encoded is a single frame ready to attach to a chat message.
type Encoded struct {
	Index     int
	Timestamp time.Duration
	DataURI   string
}

// EncodingError reports a frame that could not be encoded.
type EncodingError struct {
	Index  int
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding frame %d: %s", e.Index, e.Reason)
}

// Frame encodes one extracted frame. The bytes must hold a JPEG image.
func Frame(f media.Frame) (Encoded, error) {
	if len(f.Data) == 0 {
		return Encoded{}, &EncodingError{Index: f.Index, Reason: "empty frame data"}
	}
	if len(f.Data) < 2 || f.Data[0] != 0xff || f.Data[1] != 0xd8 {
		return Encoded{}, &EncodingError{Index: f.Index, Reason: "not a JPEG image"}
	}
	return Encoded{
		Index:     f.Index,
		Timestamp: f.Timestamp,
		DataURI:   uriPrefix + base64.StdEncoding.EncodeToString(f.Data),
	}, nil
}

// Frames encodes a batch concurrently, preserving frame order.
func Frames(ctx context.Context, frames []media.Frame) ([]Encoded, error) {
	out := make([]Encoded, len(frames))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			enc, err := Frame(f)
			if err != nil {
				return err
			}
			out[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
