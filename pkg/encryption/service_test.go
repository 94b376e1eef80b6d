package encryption

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef" // 32 chars

func newTestService(key string) *Service {
	return &Service{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		key: key,
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(testKey)

	original := map[string]interface{}{
		"access_token":  "ya29.secret",
		"refresh_token": "1//refresh",
		"expiry":        float64(1756000000), // JSON numbers are float64
		"scopes":        []interface{}{"drive.readonly"},
	}

	encrypted, err := svc.Encrypt(original)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !strings.HasPrefix(encrypted, payloadPrefix) {
		t.Errorf("Encrypt() = %q, want %q prefix", encrypted[:8], payloadPrefix)
	}
	if strings.Contains(encrypted, "ya29.secret") {
		t.Error("Encrypt() leaked plaintext")
	}

	decrypted, err := svc.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted["access_token"] != original["access_token"] {
		t.Errorf("access_token = %v, want %v", decrypted["access_token"], original["access_token"])
	}
	if decrypted["expiry"] != original["expiry"] {
		t.Errorf("expiry = %v, want %v", decrypted["expiry"], original["expiry"])
	}
}

func TestEncryptIsSalted(t *testing.T) {
	svc := newTestService(testKey)
	settings := map[string]interface{}{"token": "same"}

	first, err := svc.Encrypt(settings)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := svc.Encrypt(settings)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if first == second {
		t.Error("two encryptions of the same payload produced identical ciphertext")
	}
}

func TestEncryptWithoutKey(t *testing.T) {
	svc := newTestService("")

	out, err := svc.Encrypt(map[string]interface{}{"token": "plain"})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !strings.HasPrefix(out, "{") {
		t.Errorf("Encrypt() without key = %q, want plain JSON", out)
	}

	settings, err := svc.Decrypt(out)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if settings["token"] != "plain" {
		t.Errorf("token = %v, want plain", settings["token"])
	}
}

func TestDecryptPlainJSONWithKey(t *testing.T) {
	// Rows written before a key was configured stay readable.
	svc := newTestService(testKey)

	settings, err := svc.Decrypt(`{"token":"legacy"}`)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if settings["token"] != "legacy" {
		t.Errorf("token = %v, want legacy", settings["token"])
	}
}

func TestDecryptEncryptedWithoutKey(t *testing.T) {
	encrypted, err := newTestService(testKey).Encrypt(map[string]interface{}{"a": "b"})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = newTestService("").Decrypt(encrypted)
	if !errors.Is(err, ErrKeyNotConfigured) {
		t.Errorf("Decrypt() error = %v, want ErrKeyNotConfigured", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	encrypted, err := newTestService(testKey).Encrypt(map[string]interface{}{"a": "b"})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	other := newTestService("ffffffffffffffffffffffffffffffff")
	_, err = other.Decrypt(encrypted)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptCorruptPayload(t *testing.T) {
	svc := newTestService(testKey)

	tests := []struct {
		name string
		data string
	}{
		{"not base64", "v1:!!!not-base64!!!"},
		{"too short", "v1:AAAA"},
		{"truncated ciphertext", "v1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decrypt(tt.data)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Decrypt(%q) error = %v, want ErrDecryptionFailed", tt.data, err)
			}
		})
	}
}

func TestDecryptEmpty(t *testing.T) {
	settings, err := newTestService(testKey).Decrypt("")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("Decrypt(\"\") = %v, want empty map", settings)
	}
}

func TestService_IsConfigured(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"empty key", "", false},
		{"short key (16 chars)", "1234567890123456", false},
		{"short key (31 chars)", "1234567890123456789012345678901", false},
		{"exact minimum (32 chars)", "12345678901234567890123456789012", true},
		{"long key (64 chars)", strings.Repeat("1234567890123456", 4), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.key)
			if got := svc.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNullService(t *testing.T) {
	svc := NewNullService()
	if svc.IsConfigured() {
		t.Error("IsConfigured() = true, want false for NullService")
	}

	out, err := svc.Encrypt(map[string]interface{}{"key": "value"})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	settings, err := svc.Decrypt(out)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if settings["key"] != "value" {
		t.Errorf("round trip = %v, want value", settings["key"])
	}

	empty, err := svc.Decrypt("not json")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Decrypt(invalid) = %v, want empty map", empty)
	}
}

func TestNullService_ImplementsDecrypter(t *testing.T) {
	var _ Decrypter = (*NullService)(nil)
	var _ Decrypter = NewNullService()
}
