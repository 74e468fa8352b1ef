package b3

import (
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"
)

// Blake3HashFromFile hashes everything read from f.
func Blake3HashFromFile(f io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("calculating blake3 hash from file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hash hashes the parts in order. A zero byte separates parts so that
// ("ab", "c") and ("a", "bc") differ.
func Hash(parts ...string) string {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
