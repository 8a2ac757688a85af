package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("storage: signature invalid")
	ErrSignatureExpired = errors.New("storage: signature expired")
)

// Signer issues and verifies HMAC-signed object URLs of the form
// {base}/objects/{bucket}/{path}?expires=<unix>&sig=<hex>.
type Signer struct {
	key     []byte
	baseURL string
	now     func() time.Time
}

// NewSigner returns a signer. An empty key yields a signer that always fails.
func NewSigner(key, publicBaseURL string) *Signer {
	return &Signer{
		key:     []byte(key),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

// Sign builds the signed URL valid for ttl.
func (s *Signer) Sign(bucket, path string, ttl time.Duration) (string, error) {
	if s == nil || len(s.key) == 0 {
		return "", errors.New("storage: signing key not configured")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("storage: invalid ttl %s", ttl)
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.mac(bucket, path, expires))
	return fmt.Sprintf("%s/objects/%s/%s?%s", s.baseURL, url.PathEscape(bucket), escapePath(path), q.Encode()), nil
}

// Verify checks the signature carried by a request for bucket/path.
func (s *Signer) Verify(bucket, path, expiresRaw, sig string) error {
	if s == nil || len(s.key) == 0 {
		return ErrSignatureInvalid
	}
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.mac(bucket, path, expires)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sig))) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > expires {
		return ErrSignatureExpired
	}
	return nil
}

func (s *Signer) mac(bucket, path string, expires int64) string {
	h := hmac.New(sha256.New, s.key)
	fmt.Fprintf(h, "%s/%s|%d", bucket, path, expires)
	return hex.EncodeToString(h.Sum(nil))
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
