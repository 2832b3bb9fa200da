package secrets

import (
	"testing"

	"github.com/fernet/fernet-go"
)

func testKey(t *testing.T) string {
	t.Helper()
	var k fernet.Key
	if err := k.Generate(); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k.Encode()
}

func TestDecryptRoundTrip(t *testing.T) {
	d, err := NewDecrypter(testKey(t))
	if err != nil {
		t.Fatalf("new decrypter: %v", err)
	}

	enc, err := d.Encrypt("EAABusinessToken123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := d.Decrypt(enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "EAABusinessToken123" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	d, err := NewDecrypter(testKey(t))
	if err != nil {
		t.Fatalf("new decrypter: %v", err)
	}
	if _, err := d.Decrypt("not-a-token"); err == nil {
		t.Fatal("expected error for garbage token")
	}
}

func TestNewDecrypterRejectsBadKey(t *testing.T) {
	if _, err := NewDecrypter("short"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}
