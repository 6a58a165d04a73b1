// Package payload decodes the book data posted by the browser plugin.
//
// Without a key the data is JSON, optionally base64 encoded. With a key it is
// base64(nonce || secretbox(JSON)) using NaCl secretbox with a 24-byte nonce.
package payload

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/phrazzld/bookpush/internal/domain"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Decoder errors
var (
	ErrUndecodable = errors.New("payload cannot be decoded")
	ErrKeySize     = errors.New("payload key must be 32 bytes")
)

// Decoder turns raw book data into domain.Content.
type Decoder struct {
	key *[keySize]byte
}

// NewDecoder creates a Decoder. An empty secret disables decryption.
func NewDecoder(secret string) (*Decoder, error) {
	if secret == "" {
		return &Decoder{}, nil
	}
	if len(secret) != keySize {
		return nil, ErrKeySize
	}
	var key [keySize]byte
	copy(key[:], secret)
	return &Decoder{key: &key}, nil
}

// Decode returns the posts carried by raw. Every failure wraps ErrUndecodable.
func (d *Decoder) Decode(raw string) (*domain.Content, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrUndecodable)
	}

	data, err := d.plaintext(raw)
	if err != nil {
		return nil, err
	}

	var content domain.Content
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if _, err := content.Last(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return &content, nil
}

func (d *Decoder) plaintext(raw string) ([]byte, error) {
	if d.key == nil && strings.HasPrefix(raw, "{") {
		return []byte(raw), nil
	}

	box, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if d.key == nil {
		return box, nil
	}

	if len(box) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrUndecodable)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])

	data, ok := secretbox.Open(nil, box[nonceSize:], &nonce, d.key)
	if !ok {
		return nil, fmt.Errorf("%w: decryption failed", ErrUndecodable)
	}
	return bytes.TrimSpace(data), nil
}

// Encode produces data that Decode accepts. Clients and tests use it to
// build payloads.
func (d *Decoder) Encode(content domain.Content) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	if d.key == nil {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], data, &nonce, d.key)
	return base64.StdEncoding.EncodeToString(box), nil
}
