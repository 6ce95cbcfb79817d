// Package verify implements cryptographic verification of fetched content
// against independently-trusted digests.
package verify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// TrustedDigestHeader is the header trusted gateways may return on a HEAD to
// /raw/{contentId}, avoiding a second full fetch.
const TrustedDigestHeader = "x-ar-io-digest"

// Errors
var (
	ErrHashMismatch    = errors.New("verify: hash mismatch")
	ErrNoTrustedDigest = errors.New("verify: no trusted digest available")
)

// HashMismatchError reports a digest disagreement for a content id. It
// matches ErrHashMismatch under errors.Is.
type HashMismatchError struct {
	ContentID string
	Expected  []byte
	Actual    []byte
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("verify: hash mismatch for %s: trusted %s, computed %s",
		e.ContentID, EncodeDigest(e.Expected), EncodeDigest(e.Actual))
}

func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// GatewayError reports a transport or status failure against one origin.
type GatewayError struct {
	Origin string
	Err    error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("verify: gateway %s: %v", e.Origin, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Digest computes the content digest of data.
func Digest(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// EncodeDigest renders a digest in the base64url form used on the wire.
func EncodeDigest(d []byte) string {
	return base64.RawURLEncoding.EncodeToString(d)
}

// DecodeDigest parses a digest header value. Both base64url and hex forms
// appear in the wild.
func DecodeDigest(s string) ([]byte, error) {
	if d, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(d) == sha256.Size {
		return d, nil
	}
	if d, err := base64.StdEncoding.DecodeString(s); err == nil && len(d) == sha256.Size {
		return d, nil
	}
	if d, err := hex.DecodeString(s); err == nil && len(d) == sha256.Size {
		return d, nil
	}
	return nil, fmt.Errorf("verify: undecodable digest %q", s)
}

// TrustedSource obtains an independently-trusted digest for a content id.
type TrustedSource interface {
	TrustedDigest(ctx context.Context, contentID string) ([]byte, error)
}

// Strategy validates fetched bytes for a content id: nil means the bytes are
// authentic for that id.
type Strategy interface {
	Verify(ctx context.Context, contentID string, data []byte) error
}

// HashStrategy compares the local digest of the bytes against the trusted
// digest for the content id, byte for byte.
type HashStrategy struct {
	Source TrustedSource
}

// Verify implements Strategy.
func (s *HashStrategy) Verify(ctx context.Context, contentID string, data []byte) error {
	expected, err := s.Source.TrustedDigest(ctx, contentID)
	if err != nil {
		return fmt.Errorf("trusted digest for %s: %w", contentID, err)
	}

	actual := Digest(data)
	if !bytes.Equal(expected, actual) {
		return &HashMismatchError{ContentID: contentID, Expected: expected, Actual: actual}
	}
	return nil
}
