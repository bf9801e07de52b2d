package uploader

import (
	"fmt"
	"hash"
	"io"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/classifier"
)

// verifyingReader fingerprints a file while a stage reads it. Each byte
// offset is hashed once, in order, so stages that seek back and re-read the
// body (to sign the payload, say) still produce the fingerprint of the file.
type verifyingReader struct {
	r      io.ReadSeeker
	h      hash.Hash
	pos    int64
	hashed int64
}

func newVerifyingReader(r io.ReadSeeker) *verifyingReader {
	return &verifyingReader{r: r, h: classifier.NewFingerprintHash()}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		start, end := v.pos, v.pos+int64(n)
		if start <= v.hashed && end > v.hashed {
			_, _ = v.h.Write(p[v.hashed-start : n])
			v.hashed = end
		}
		v.pos = end
	}
	return n, err
}

func (v *verifyingReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := v.r.Seek(offset, whence)
	if err == nil {
		v.pos = pos
	}
	return pos, err
}

// Fingerprint reads whatever the stage left unread and returns the
// fingerprint of the whole file.
func (v *verifyingReader) Fingerprint() (string, error) {
	if _, err := v.Seek(v.hashed, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind to offset %d: %w", v.hashed, err)
	}
	if _, err := io.Copy(io.Discard, v); err != nil {
		return "", fmt.Errorf("read remaining content: %w", err)
	}
	return classifier.FingerprintSum(v.h), nil
}
