package delta

import (
	"fmt"
)

// Codec encodes successive versions of a file's content
type Codec interface {
	// Name returns the identifier stored alongside encoded payloads
	Name() string

	// Encode produces a payload that turns prev into next
	Encode(prev, next []byte) ([]byte, error)

	// Decode applies payload to prev and returns the resulting content
	Decode(prev, payload []byte) ([]byte, error)
}

// ForName returns the codec registered under name
func ForName(name string) (Codec, error) {
	switch name {
	case "bsdiff":
		return Bsdiff{}, nil
	case "full":
		return Full{}, nil
	default:
		return nil, fmt.Errorf("unsupported delta codec: %s (must be 'bsdiff' or 'full')", name)
	}
}

// Full stores every version verbatim.
type Full struct{}

func (Full) Name() string { return "full" }

func (Full) Encode(_, next []byte) ([]byte, error) {
	out := make([]byte, len(next))
	copy(out, next)
	return out, nil
}

func (Full) Decode(_, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Ratio reports payload size relative to the content it encodes (lower is better).
// Empty content yields 0.
func Ratio(next, payload []byte) float64 {
	if len(next) == 0 {
		return 0
	}
	return float64(len(payload)) / float64(len(next))
}
