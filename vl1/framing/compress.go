package framing

import (
	"fmt"

	"github.com/pierrec/lz4"
)

// CompressPayload LZ4-compresses body, returning the compressed block. The
// caller sets MessageFlagCompressed on the verb byte and must be prepared to
// fall back to the uncompressed form if the compressed form is not smaller.
func CompressPayload(body []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(body)))
	ht := make([]int, 1<<16)
	n, err := lz4.CompressBlock(body, buf, ht)
	if err != nil {
		return nil, fmt.Errorf("framing: lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible: lz4 reports this by returning n == 0.
		return nil, fmt.Errorf("framing: lz4 compress: incompressible")
	}
	return buf[:n], nil
}

// DecompressPayload LZ4-decompresses a block produced by CompressPayload.
// originalSize must be known ahead of time (VL1 messages carry an explicit
// uncompressed-size field ahead of the compressed body for this purpose).
func DecompressPayload(compressed []byte, originalSize int) ([]byte, error) {
	out := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, fmt.Errorf("framing: lz4 decompress: %w", err)
	}
	return out[:n], nil
}
