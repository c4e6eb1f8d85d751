package transport

import (
	"fmt"

	"github.com/klauspost/compress/snappy"
)

const encodingSnappy = "snappy"

// decompress undoes the content encoding negotiated with the server. Bodies
// in any other encoding are returned unchanged.
func decompress(encoding string, data []byte) ([]byte, error) {
	if encoding != encodingSnappy {
		return data, nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	return out, nil
}
