package store

import (
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// digestReader hashes the first n bytes of r with BLAKE2b-256 (all of r when n < 0).
func digestReader(r io.Reader, n int64) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		_, err = io.Copy(h, r)
	} else {
		_, err = io.CopyN(h, r, n)
	}
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func digestFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return digestReader(f, -1)
}

func hexDigest(a arrayFile) (string, error) {
	_, _, exists, err := a.Shape()
	if err != nil || !exists {
		return "", err
	}
	sum, err := a.Digest()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
