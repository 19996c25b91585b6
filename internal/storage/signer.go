package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid upload token")
	ErrTokenExpired = errors.New("upload token expired")
)

// Signer issues and validates upload tokens scoped to a single object key.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign creates a token encoding the object key and expiry.
func (s *Signer) Sign(objectKey string, expiry time.Time) string {
	payload := fmt.Sprintf("%s|%d", objectKey, expiry.Unix())
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.mac([]byte(payload))
}

// Verify validates a token and returns the object key it grants.
func (s *Signer) Verify(token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(payload))) {
		return "", ErrInvalidToken
	}

	// keys may contain '|', the expiry never does
	sep := strings.LastIndexByte(string(payload), '|')
	if sep <= 0 {
		return "", ErrInvalidToken
	}
	expiryUnix, err := strconv.ParseInt(string(payload[sep+1:]), 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if s.now().Unix() > expiryUnix {
		return "", ErrTokenExpired
	}
	return string(payload[:sep]), nil
}

func (s *Signer) mac(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
