package installer

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

// parseChecksum splits "algo:hex". Unknown algorithms or malformed values
// return ok=false and are not verified.
func parseChecksum(checksum string) (newHash func() hash.Hash, want string, ok bool) {
	algo, value, found := strings.Cut(strings.TrimSpace(checksum), ":")
	if !found || value == "" {
		return nil, "", false
	}
	if _, err := hex.DecodeString(value); err != nil {
		return nil, "", false
	}

	switch strings.ToLower(algo) {
	case "sha256":
		return sha256.New, strings.ToLower(value), true
	case "md5":
		return md5.New, strings.ToLower(value), true
	default:
		return nil, "", false
	}
}

// verifyChecksum hashes path and compares it to checksum
func verifyChecksum(fs port.FileSystem, path, checksum string) error {
	newHash, want, ok := parseChecksum(checksum)
	if !ok {
		return nil
	}

	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open for checksum: %w", err)
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash file: %w", err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: got %s, want %s", domain.ErrChecksumMismatch, got, want)
	}
	return nil
}
