package capture

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// decodeContent reverses Content-Encoding, grounded on
// GriffinCanCode-ArtificialOS/backend/internal/providers/filesystem/archives.go's
// use of klauspost/compress for gzip/flate. brotli has no representative
// in the example pack; andybalholm/brotli is named here as the practical
// ecosystem decoder for "br". An unrecognized or empty encoding passes
// the body through unchanged.
func decodeContent(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("capture: gzip decode: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		r := brotli.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	default:
		return body, nil
	}
}
