package quill

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ContentEncodingZstd is the only negotiated Content-Encoding Quill
// supports (§4.9).
const ContentEncodingZstd = "zstd"

// Compressor applies the per-direction zstd Compression Layer: bodies
// under the threshold are left uncompressed (§4.9 — "smaller payloads
// skip compression"), and negotiation is purely size + advertised-support
// driven, not automatic.
type Compressor struct {
	ThresholdBytes int

	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
}

// NewCompressor returns a Compressor using DefaultZstdThresholdBytes when
// thresholdBytes is 0.
func NewCompressor(thresholdBytes int) *Compressor {
	if thresholdBytes == 0 {
		thresholdBytes = DefaultZstdThresholdBytes
	}
	return &Compressor{ThresholdBytes: thresholdBytes}
}

func (c *Compressor) encoder() *zstd.Encoder {
	c.encOnce.Do(func() {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic("quill: failed to construct zstd encoder: " + err.Error())
		}
		c.enc = enc
	})
	return c.enc
}

func (c *Compressor) decoder() *zstd.Decoder {
	c.decOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic("quill: failed to construct zstd decoder: " + err.Error())
		}
		c.dec = dec
	})
	return c.dec
}

// ShouldCompress reports whether a body of bodyLen bytes should be
// compressed, given that the peer advertised zstd support.
func (c *Compressor) ShouldCompress(peerAdvertisesZstd bool, bodyLen int) bool {
	return peerAdvertisesZstd && bodyLen >= c.ThresholdBytes
}

// Compress returns the zstd-compressed form of body.
func (c *Compressor) Compress(body []byte) []byte {
	return c.encoder().EncodeAll(body, make([]byte, 0, len(body)))
}

// Decompress reverses Compress. Errors here are InvalidArgument for
// request bodies and Internal for response bodies (§4.9); the caller picks
// the kind since Compressor itself doesn't know which side it's on.
func (c *Compressor) Decompress(body []byte) ([]byte, error) {
	out, err := c.decoder().DecodeAll(body, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecompressRequest wraps Decompress with the request-side error kind.
func (c *Compressor) DecompressRequest(body []byte) ([]byte, error) {
	out, err := c.Decompress(body)
	if err != nil {
		return nil, Wrap(ErrorInvalidArgument, "malformed zstd request body", err)
	}
	return out, nil
}

// DecompressResponse wraps Decompress with the response-side error kind.
func (c *Compressor) DecompressResponse(body []byte) ([]byte, error) {
	out, err := c.Decompress(body)
	if err != nil {
		return nil, Wrap(ErrorInternal, "malformed zstd response body", err)
	}
	return out, nil
}
