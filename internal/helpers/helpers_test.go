package helpers

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConvertToSlug(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Empty string", "", ""},
		{"Simple string", "Simple Test", "simple_test"},
		{"With colon", "Artist: Song", "artist-song"},
		{"Invalid characters", "Lofi*Beats?To\"Study!", "lofibeatstostudy"},
		{"Repeated dashes", "double--dash", "double-dash"},
		{"Mixed repeated separators", "mixed-_-separator--test", "mixed-separator-test"},
		{"Underscore runs around a dash", "a__-__b", "a-b"},
		{"Leading/trailing separators", "-_Leading Trailing_-_", "leading_trailing"},
		{"All invalid", "!@#$%^&*()+", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertToSlug(tt.input)
			if got != tt.want {
				t.Errorf("ConvertToSlug(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint64
		want  string
	}{
		{"Zero bytes", 0, "0B"},
		{"Bytes", 500, "500.00B"},
		{"Kilobytes", 1024, "1.00KB"},
		{"Megabytes", 1024 * 1024, "1.00MB"},
		{"Fifty megabytes", 50 * 1024 * 1024, "50.00MB"},
		{"Gigabytes", 1024 * 1024 * 1024, "1.00GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BytesToSize(tt.bytes); got != tt.want {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"short", "lofi beats", 50, "lofi beats"},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdefgh", 5, "abcde…"},
		{"multibyte", "ééééééé", 3, "ééé…"},
		{"no limit", "anything", 0, "anything"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateTitle(tt.input, tt.max); got != tt.want {
				t.Errorf("TruncateTitle(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestFingerprintFile(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("lofi beats to study to "), 10000) // spans several chunks

	first := filepath.Join(dir, "a.mp3")
	second := filepath.Join(dir, "b.mp3")
	if err := os.WriteFile(first, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(second, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := FingerprintFile(first)
	if err != nil {
		t.Fatalf("FingerprintFile: %v", err)
	}
	b, err := FingerprintFile(second)
	if err != nil {
		t.Fatalf("FingerprintFile: %v", err)
	}
	if a != b {
		t.Fatalf("same bytes produced different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}

	mutated := append([]byte(nil), content...)
	mutated[len(mutated)/2] ^= 0x01
	if err := os.WriteFile(second, mutated, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := FingerprintFile(second)
	if err != nil {
		t.Fatalf("FingerprintFile: %v", err)
	}
	if c == a {
		t.Fatalf("single-byte change did not alter the digest")
	}

	fromReader, err := FingerprintReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("FingerprintReader: %v", err)
	}
	if fromReader != a {
		t.Fatalf("reader and file digests differ")
	}
}

func TestFingerprintFileMissing(t *testing.T) {
	_, err := FingerprintFile(filepath.Join(t.TempDir(), "missing.mp3"))
	if !errors.Is(err, ErrFingerprint) {
		t.Fatalf("expected ErrFingerprint, got %v", err)
	}
}

func TestHashKeyStable(t *testing.T) {
	if HashKey("lofi beats") != HashKey("lofi beats") {
		t.Fatal("HashKey not deterministic")
	}
	if HashKey("lofi beats") == HashKey("lofi beat") {
		t.Fatal("HashKey collided on different input")
	}
	if len(HashKey("x")) != 32 {
		t.Fatalf("unexpected key length %d", len(HashKey("x")))
	}
}
