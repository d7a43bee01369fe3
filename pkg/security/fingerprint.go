package security

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Fingerprint hashes content while it streams to storage, so identical
// files can be recognised without keeping them in memory.
type Fingerprint struct {
	h hash.Hash
	n int64
}

func NewFingerprint() *Fingerprint {
	return &Fingerprint{h: sha256.New()}
}

// Reader returns r with every byte read also fed to the fingerprint.
func (f *Fingerprint) Reader(r io.Reader) io.Reader {
	return io.TeeReader(r, f)
}

func (f *Fingerprint) Write(p []byte) (int, error) {
	n, err := f.h.Write(p)
	f.n += int64(n)
	return n, err
}

// Sum returns the digest of everything read so far.
func (f *Fingerprint) Sum() string {
	return "sha256:" + hex.EncodeToString(f.h.Sum(nil))
}

// Size is the number of bytes read so far.
func (f *Fingerprint) Size() int64 {
	return f.n
}
