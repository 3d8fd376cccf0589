package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestrix/ctrlplane/core"
)

func testEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	t.Setenv("CTRL_TEST_MASTER_PASSWORD", "correct-horse-battery-staple")
	enc, err := NewEncryptor(Config{MasterPasswordEnvName: "CTRL_TEST_MASTER_PASSWORD"})
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	return enc
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc := testEncryptor(t)

	inputs := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("sk-live-abcdef0123456789"),
		make([]byte, 4096),
	}
	for _, in := range inputs {
		ciphertext, err := enc.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", in, err)
		}
		plaintext, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if string(plaintext) != string(in) {
			t.Errorf("round trip mismatch: got %q, want %q", plaintext, in)
		}
	}
}

func TestEncryptor_TamperedCiphertextFailsAuthentication(t *testing.T) {
	enc := testEncryptor(t)
	ciphertext, err := enc.Encrypt([]byte("api-key-value"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Error("expected tampered ciphertext to fail authentication")
	}
}

func TestEncryptor_MissingPasswordIsMissingConfiguration(t *testing.T) {
	t.Setenv("CTRL_TEST_MASTER_PASSWORD_UNSET", "")
	_, err := NewEncryptor(Config{MasterPasswordEnvName: "CTRL_TEST_MASTER_PASSWORD_UNSET"})
	if err == nil {
		t.Fatal("expected error for missing password")
	}
	if !errors.Is(err, core.ErrMissingConfiguration) {
		t.Errorf("expected ErrMissingConfiguration, got %v", err)
	}
}

func TestKeyManager_SaveLoadRoundTrip(t *testing.T) {
	enc := testEncryptor(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.enc.json")

	km := NewKeyManager(enc, path, &core.NoOpLogger{})
	if err := km.AddKey("openai", "key-a"); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := km.AddKey("openai", "key-b"); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := km.AddKey("anthropic", "key-c"); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if err := km.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected key file to exist: %v", err)
	}

	reloaded := NewKeyManager(enc, path, &core.NoOpLogger{})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := map[string][]string{}
	err := reloaded.RotateIntoRing(func(service string, keys []string) {
		got[service] = keys
	})
	if err != nil {
		t.Fatalf("RotateIntoRing: %v", err)
	}

	if len(got["openai"]) != 2 || got["openai"][0] != "key-a" || got["openai"][1] != "key-b" {
		t.Errorf("openai keys = %v, want [key-a key-b]", got["openai"])
	}
	if len(got["anthropic"]) != 1 || got["anthropic"][0] != "key-c" {
		t.Errorf("anthropic keys = %v, want [key-c]", got["anthropic"])
	}
}

func TestKeyManager_LoadMissingFileIsEmptyNotError(t *testing.T) {
	enc := testEncryptor(t)
	km := NewKeyManager(enc, filepath.Join(t.TempDir(), "does-not-exist.json"), &core.NoOpLogger{})
	if err := km.Load(); err != nil {
		t.Errorf("expected missing file to load as empty pool, got %v", err)
	}
}

func TestKeyManager_SaveLeavesNoTempFileBehind(t *testing.T) {
	enc := testEncryptor(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.enc.json")
	km := NewKeyManager(enc, path, &core.NoOpLogger{})
	_ = km.AddKey("svc", "k")
	if err := km.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "keys.enc.json" {
		t.Errorf("expected exactly one file (keys.enc.json), got %v", entries)
	}
}
