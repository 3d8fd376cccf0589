package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/orchestrix/ctrlplane/core"
)

// KeyManager holds a per-service pool of API keys encrypted at rest,
// persisted as a single atomically-written file.
type KeyManager struct {
	mu     sync.Mutex
	enc    *Encryptor
	path   string
	pool   map[string][][]byte // service -> ciphertexts
	logger core.Logger
}

// NewKeyManager constructs a KeyManager backed by the given encryptor and
// on-disk path.
func NewKeyManager(enc *Encryptor, path string, logger core.Logger) *KeyManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("crypto")
	}
	return &KeyManager{enc: enc, path: path, pool: make(map[string][][]byte), logger: logger}
}

// AddKey encrypts apiKey and appends it to service's pool in memory. Call
// Save to persist.
func (k *KeyManager) AddKey(service, apiKey string) error {
	ciphertext, err := k.enc.Encrypt([]byte(apiKey))
	if err != nil {
		return fmt.Errorf("crypto: AddKey: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pool[service] = append(k.pool[service], ciphertext)
	return nil
}

// onDiskForm is the serialized shape: service -> list of base64 ciphertexts.
type onDiskForm map[string][]string

// Save writes the pool to disk via a temp file + rename, so a crash mid
// write never leaves a half-written pool file behind.
func (k *KeyManager) Save() error {
	k.mu.Lock()
	disk := make(onDiskForm, len(k.pool))
	for service, ciphertexts := range k.pool {
		encoded := make([]string, len(ciphertexts))
		for i, ct := range ciphertexts {
			encoded[i] = base64.StdEncoding.EncodeToString(ct)
		}
		disk[service] = encoded
	}
	k.mu.Unlock()

	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto: Save: marshal key pool: %w", err)
	}

	dir := filepath.Dir(k.path)
	tmp, err := os.CreateTemp(dir, ".keys-*.tmp")
	if err != nil {
		return fmt.Errorf("crypto: Save: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("crypto: Save: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("crypto: Save: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, k.path); err != nil {
		return fmt.Errorf("crypto: Save: rename temp file: %w", err)
	}
	return nil
}

// Load reads the pool from disk, replacing the in-memory state. A missing
// file is treated as an empty pool, not an error, so first-run startup
// doesn't require a pre-seeded file.
func (k *KeyManager) Load() error {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		k.mu.Lock()
		k.pool = make(map[string][][]byte)
		k.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("crypto: Load: read key pool file: %w", err)
	}

	var disk onDiskForm
	if err := json.Unmarshal(data, &disk); err != nil {
		return fmt.Errorf("crypto: Load: unmarshal key pool: %w", err)
	}

	pool := make(map[string][][]byte, len(disk))
	for service, encoded := range disk {
		ciphertexts := make([][]byte, len(encoded))
		for i, e := range encoded {
			ct, err := base64.StdEncoding.DecodeString(e)
			if err != nil {
				return fmt.Errorf("crypto: Load: decode ciphertext for %s[%d]: %w", service, i, err)
			}
			ciphertexts[i] = ct
		}
		pool[service] = ciphertexts
	}

	k.mu.Lock()
	k.pool = pool
	k.mu.Unlock()
	return nil
}

// RotateIntoRing decrypts every key currently held for every service and
// hands them to install, in pool order — the shape the router's key ring
// expects at startup.
func (k *KeyManager) RotateIntoRing(install func(service string, plaintextKeys []string)) error {
	k.mu.Lock()
	pool := make(map[string][][]byte, len(k.pool))
	for service, ciphertexts := range k.pool {
		pool[service] = append([][]byte(nil), ciphertexts...)
	}
	k.mu.Unlock()

	for service, ciphertexts := range pool {
		keys := make([]string, 0, len(ciphertexts))
		for i, ct := range ciphertexts {
			plaintext, err := k.enc.Decrypt(ct)
			if err != nil {
				return fmt.Errorf("crypto: RotateIntoRing: decrypt %s[%d]: %w", service, i, err)
			}
			keys = append(keys, string(plaintext))
		}
		install(service, keys)
	}
	return nil
}
