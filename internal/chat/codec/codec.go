package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// Codec transforms message bodies between plaintext and their at-rest form.
type Codec interface {
	Encode(plaintext string) (string, error)
	Decode(ciphertext string) (string, error)
}

// Keyring supplies the codec key. A single static secret is all the platform
// uses today; the indirection exists so a rotating provider can be swapped in
// without touching the codec.
type Keyring interface {
	Current() []byte
}

// StaticKeyring derives one fixed 32-byte key from a shared secret.
type StaticKeyring struct {
	key []byte
}

func NewStaticKeyring(secret string) *StaticKeyring {
	sum := sha256.Sum256([]byte(secret))
	return &StaticKeyring{key: sum[:]}
}

func (k *StaticKeyring) Current() []byte { return k.key }

// AEADCodec seals message bodies with ChaCha20-Poly1305 and stores them as
// base64(nonce || ciphertext).
//
// Decode fails open: input that is not valid base64, too short, or fails
// authentication is returned unchanged. Rows written before encryption was
// introduced stay readable, matching the platform's historical behavior.
type AEADCodec struct {
	keys Keyring
	log  *logrus.Entry
}

func NewAEADCodec(keys Keyring, log *logrus.Entry) (*AEADCodec, error) {
	// Fail fast on bad key material instead of per message.
	if _, err := chacha20poly1305.New(keys.Current()); err != nil {
		return nil, fmt.Errorf("invalid codec key: %w", err)
	}
	return &AEADCodec{keys: keys, log: log}, nil
}

func (c *AEADCodec) Encode(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.New(c.keys.Current())
	if err != nil {
		return "", fmt.Errorf("codec key rejected: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AEADCodec) Decode(ciphertext string) (string, error) {
	if strings.TrimSpace(ciphertext) == "" {
		return ciphertext, nil
	}

	aead, err := chacha20poly1305.New(c.keys.Current())
	if err != nil {
		return "", fmt.Errorf("codec key rejected: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < aead.NonceSize() {
		c.warn("stored message body is not sealed, returning as-is")
		return ciphertext, nil
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		c.warn("failed to open sealed message body, returning as-is")
		return ciphertext, nil
	}
	return string(plain), nil
}

func (c *AEADCodec) warn(msg string) {
	if c.log != nil {
		c.log.Warn(msg)
	}
}
