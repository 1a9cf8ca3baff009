package schema

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

type compressor interface {
	compress(src []byte) ([]byte, error)
	decompress(src []byte) ([]byte, error)
}

func compressorFor(c Compression) compressor {
	switch c {
	case Zstd:
		return zstdCompressor{}
	case Gzip:
		return gzipCompressor{}
	}
	return noOpCompressor{}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

type zstdCompressor struct{}

func (zstdCompressor) compress(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (zstdCompressor) decompress(src []byte) ([]byte, error) {
	data, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd cannot decode: %w", err)
	}
	return data, nil
}

type gzipCompressor struct{}

func (gzipCompressor) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("gzip cannot compress data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip cannot close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) decompress(src []byte) ([]byte, error) {
	zr, err := pgzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("gzip cannot create reader: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip cannot read: %w", err)
	}
	return data, nil
}

type noOpCompressor struct{}

func (noOpCompressor) compress(src []byte) ([]byte, error) {
	return src, nil
}

func (noOpCompressor) decompress(src []byte) ([]byte, error) {
	return src, nil
}
