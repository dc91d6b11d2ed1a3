package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken            = errors.New("jwt: invalid token")
	ErrExpiredToken            = errors.New("jwt: token expired")
	ErrInvalidSignature        = errors.New("jwt: invalid signature")
	ErrUnexpectedSigningMethod = errors.New("jwt: unexpected signing method")
	ErrInvalidSigningMethod    = errors.New("jwt: invalid signing method")
	ErrMissingSigningKey       = errors.New("jwt: missing signing key")
	ErrInvalidSigningKey       = errors.New("jwt: invalid signing key")
	ErrInvalidClaims           = errors.New("jwt: invalid claims")
	ErrMissingClaims           = errors.New("jwt: missing claims")
)

const signingMethod = "HS256"

var header = map[string]string{"alg": signingMethod, "typ": "JWT"}

// StandardClaims holds the RFC 7519 registered claim names. Embed it in a
// custom struct to carry application-specific fields alongside it.
type StandardClaims struct {
	ID        string `json:"jti,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	Audience  string `json:"aud,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// Service signs and verifies JWTs with a single HMAC-SHA256 key.
type Service struct {
	key []byte
}

// New creates a Service from a raw signing key. The key should be at least
// 32 bytes; it is not rejected here if shorter, but callers should not pass
// low-entropy keys in production.
func New(key []byte) (*Service, error) {
	if len(key) == 0 {
		return nil, ErrMissingSigningKey
	}
	return &Service{key: key}, nil
}

// NewFromString is New with a string key.
func NewFromString(key string) (*Service, error) {
	return New([]byte(key))
}

// Generate encodes claims into a signed compact JWT string.
func (s *Service) Generate(claims any) (string, error) {
	if claims == nil {
		return "", ErrMissingClaims
	}
	if len(s.key) == 0 {
		return "", ErrMissingSigningKey
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", errors.Join(ErrInvalidClaims, err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", errors.Join(ErrInvalidClaims, err)
	}

	signingInput := encodeSegment(headerJSON) + "." + encodeSegment(claimsJSON)
	sig := s.sign(signingInput)

	return signingInput + "." + encodeSegment(sig), nil
}

// Parse verifies a compact JWT string's signature and standard temporal
// claims, then unmarshals its payload into claims.
func (s *Service) Parse(token string, claims any) error {
	if len(s.key) == 0 {
		return ErrMissingSigningKey
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrInvalidToken
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return errors.Join(ErrInvalidToken, err)
	}
	var hdr map[string]string
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return errors.Join(ErrInvalidToken, err)
	}
	if hdr["alg"] != signingMethod {
		if hdr["alg"] == "" {
			return ErrInvalidSigningMethod
		}
		return ErrUnexpectedSigningMethod
	}

	signingInput := parts[0] + "." + parts[1]
	sig, err := decodeSegment(parts[2])
	if err != nil {
		return errors.Join(ErrInvalidToken, err)
	}
	expected := s.sign(signingInput)
	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return ErrInvalidSignature
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return errors.Join(ErrInvalidToken, err)
	}
	if err := json.Unmarshal(payload, claims); err != nil {
		return errors.Join(ErrInvalidToken, err)
	}

	return validateTemporalClaims(payload)
}

func (s *Service) sign(signingInput string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

// validateTemporalClaims re-decodes the payload looking only at exp/nbf so
// callers may embed StandardClaims under any field name or none at all.
func validateTemporalClaims(payload []byte) error {
	var t struct {
		ExpiresAt int64 `json:"exp"`
		NotBefore int64 `json:"nbf"`
	}
	if err := json.Unmarshal(payload, &t); err != nil {
		return errors.Join(ErrInvalidToken, err)
	}

	now := time.Now().Unix()
	if t.ExpiresAt != 0 && now >= t.ExpiresAt {
		return ErrExpiredToken
	}
	if t.NotBefore != 0 && now < t.NotBefore {
		return ErrInvalidToken
	}
	return nil
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
