package utils

import (
	"bytes"
	"encoding/json"

	"github.com/klauspost/pgzip"
)

// Compress encodes d as json and gzips the result.
func Compress(d any) ([]byte, error) {
	var b bytes.Buffer
	zw := pgzip.NewWriter(&b)
	err := json.NewEncoder(zw).Encode(d)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress is the inverse of Compress.
func Decompress(d []byte, dest any) error {
	zr, err := pgzip.NewReader(bytes.NewReader(d))
	if err != nil {
		return err
	}
	defer zr.Close()
	err = json.NewDecoder(zr).Decode(dest)
	if err != nil {
		return err
	}
	return nil
}
