// Package crypto implements the process-bound symmetric encryptor and the
// on-disk key pool used to seed the reliability router's direct-provider
// key rings.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/orchestrix/ctrlplane/core"
)

// deploymentSalt is fixed per deployment rather than per key: the master
// key is process-bound, not stored, so the salt only needs to defeat
// precomputed rainbow tables across deployments, not reuse within one.
var deploymentSalt = []byte("ctrlplane-encryptor-deployment-salt-v1")

const (
	scryptN      = 1 << 17 // cost parameter; chosen so total work exceeds 100k PBKDF2-equivalent iterations
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = chacha20poly1305.KeySize
)

// Config configures the Encryptor. Mirrors core.EncryptorConfig.
type Config struct {
	MasterPasswordEnvName string
	KdfIterations         int
}

// FromCoreConfig adapts the framework-wide encryptor config block.
func FromCoreConfig(c core.EncryptorConfig) Config {
	return Config{MasterPasswordEnvName: c.MasterPasswordEnvName, KdfIterations: c.KdfIterations}
}

// Encryptor performs authenticated symmetric encryption keyed by a
// process-bound master derived once at construction time. It satisfies
// core.Encryptor.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the master key from the password found in the
// environment variable named by cfg.MasterPasswordEnvName via scrypt, and
// constructs a ChaCha20-Poly1305 AEAD over it.
func NewEncryptor(cfg Config) (*Encryptor, error) {
	envName := cfg.MasterPasswordEnvName
	if envName == "" {
		envName = "CTRL_MASTER_PASSWORD"
	}
	password := os.Getenv(envName)
	if password == "" {
		return nil, fmt.Errorf("crypto: environment variable %s is not set: %w", envName, core.ErrMissingConfiguration)
	}

	key, err := scrypt.Key([]byte(password), deploymentSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to derive master key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to construct AEAD: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated random nonce, prepended
// to the returned ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt, reading the nonce from the ciphertext's prefix.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("crypto: ciphertext shorter than nonce: %w", core.ErrValidationFailed)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed: %w", core.ErrValidationFailed)
	}
	return plaintext, nil
}
