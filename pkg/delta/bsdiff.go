package delta

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Bsdiff encodes versions as bsdiff patches against the previous content.
// With no previous content the payload is the content itself.
type Bsdiff struct{}

func (Bsdiff) Name() string { return "bsdiff" }

func (Bsdiff) Encode(prev, next []byte) ([]byte, error) {
	if len(prev) == 0 {
		return Full{}.Encode(nil, next)
	}

	patch, err := bsdiff.Bytes(prev, next)
	if err != nil {
		return nil, fmt.Errorf("bsdiff encode: %w", err)
	}
	return patch, nil
}

func (Bsdiff) Decode(prev, payload []byte) ([]byte, error) {
	if len(prev) == 0 {
		return Full{}.Decode(nil, payload)
	}

	out, err := bspatch.Bytes(prev, payload)
	if err != nil {
		return nil, fmt.Errorf("bspatch decode: %w", err)
	}
	return out, nil
}
