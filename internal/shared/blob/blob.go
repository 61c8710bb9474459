package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store is a local-disk blob store that issues HMAC-signed, expiring
// download URLs. Paths are always relative to the store root.
type Store struct {
	root   string
	secret []byte
}

// New creates a blob store rooted at dir, creating it if needed
func New(dir, signingSecret string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &Store{root: dir, secret: []byte(signingSecret)}, nil
}

// Upload writes data under path and returns the stored path
func (s *Store) Upload(data []byte, path string) (string, error) {
	full := filepath.Join(s.root, filepath.Clean("/"+path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob subdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return path, nil
}

// Download reads the blob stored at path
func (s *Store) Download(path string) ([]byte, error) {
	full := filepath.Join(s.root, filepath.Clean("/"+path))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// SignedURL returns a relative URL for path that expires after ttl.
// The signature covers path and expiry so neither can be tampered with.
func (s *Store) SignedURL(path string, ttl time.Duration) string {
	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(path, expires)
	return fmt.Sprintf("/v1/blobs/%s?expires=%d&sig=%s", path, expires, sig)
}

// Verify checks a signature produced by SignedURL
func (s *Store) Verify(path string, expiresStr, sig string) error {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry")
	}
	if time.Now().Unix() > expires {
		return fmt.Errorf("link expired")
	}
	want := s.sign(path, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("bad signature")
	}
	return nil
}

func (s *Store) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.TrimPrefix(path, "/")))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
