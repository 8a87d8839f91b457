// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secrets wraps AES-256-GCM credential encryption behind an
// explicit Provider passed to Store at construction, per spec.md §9:
// "Encryption key stored in process-wide state... model as an explicit
// SecretsProvider".
package secrets

import (
	"fmt"

	"github.com/btouchard/mailrelay/pkg/crypto"
)

// Provider encrypts and decrypts Account credentials at rest.
type Provider interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// AESProvider is the default Provider, backed by AES-256-GCM with a
// 32-byte key supplied via MAILRELAY_SECRETS_KEY.
type AESProvider struct {
	key []byte
}

// NewAESProvider validates the key length up front so construction fails
// fast instead of on the first encrypted field.
func NewAESProvider(key []byte) (*AESProvider, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &AESProvider{key: key}, nil
}

func (p *AESProvider) Encrypt(plaintext string) ([]byte, error) {
	return crypto.EncryptToken(plaintext, p.key)
}

func (p *AESProvider) Decrypt(ciphertext []byte) (string, error) {
	return crypto.DecryptToken(ciphertext, p.key)
}
