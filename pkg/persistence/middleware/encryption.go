package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/ports"
)

// KeySize is the AES-256 key length.
const KeySize = 32

const envelopeKey = "__encrypted__"

// ErrNotEncrypted is returned by Load when the stored record carries no
// encrypted payload.
var ErrNotEncrypted = errors.New("conversation is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new data. Must be KeySize bytes.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt,
	// so keys can be rotated without rewriting stored threads.
	FallbackKeys [][]byte
}

// ParseKey decodes a base64 or hex encoded AES-256 key.
func ParseKey(s string) ([]byte, error) {
	if k, err := base64.StdEncoding.DecodeString(s); err == nil && len(k) == KeySize {
		return k, nil
	}
	if k, err := hex.DecodeString(s); err == nil && len(k) == KeySize {
		return k, nil
	}
	return nil, fmt.Errorf("encryption key must be %d bytes, base64 or hex encoded", KeySize)
}

type encryptionMiddleware struct {
	next   ports.ConversationStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that stores conversations as
// AES-GCM sealed envelopes. It panics if the active key is not KeySize bytes.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != KeySize {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.ConversationStore) ports.ConversationStore {
		return &encryptionMiddleware{next: next, config: config}
	}
}

// Save seals the whole conversation. The envelope keeps only the fields
// needed for housekeeping; input, questions and answers are hidden.
func (m *encryptionMiddleware) Save(ctx context.Context, threadID string, c *domain.Conversation) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	sealed, err := encrypt(plain, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation: %w", err)
	}

	envelope := &domain.Conversation{
		ID:      c.ID,
		Done:    c.Done,
		Round:   c.Round,
		Started: c.Started,
		Result:  map[string]any{envelopeKey: base64.StdEncoding.EncodeToString(sealed)},
	}
	return m.next.Save(ctx, threadID, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, threadID string) (*domain.Conversation, error) {
	envelope, err := m.next.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	encoded, ok := envelope.Result[envelopeKey].(string)
	if !ok {
		return nil, ErrNotEncrypted
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(sealed, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt conversation: %w", err)
	}

	var c domain.Conversation
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted conversation: %w", err)
	}
	return &c, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, threadID string) error {
	return m.next.Delete(ctx, threadID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Ping forwards to the wrapped store when it can report its health.
func (m *encryptionMiddleware) Ping(ctx context.Context) error {
	if p, ok := m.next.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
