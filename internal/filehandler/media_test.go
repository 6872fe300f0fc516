package filehandler

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsImage(t *testing.T) {
	tests := []struct {
		ext      string
		expected bool
	}{
		{".jpg", true},
		{".jpeg", true},
		{".JPG", true},
		{".png", true},
		{".PNG", true},
		{".gif", true},
		{".webp", true},
		{".heic", false},
		{".mp4", false},
		{".txt", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			result := IsImage(tt.ext)
			if result != tt.expected {
				t.Errorf("IsImage(%q) = %v, want %v", tt.ext, result, tt.expected)
			}
		})
	}
}

func TestGetMIMEType(t *testing.T) {
	tests := []struct {
		ext      string
		expected string
		ok       bool
	}{
		{".png", "image/png", true},
		{".JPEG", "image/jpeg", true},
		{".webp", "image/webp", true},
		{".bmp", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			mime, ok := GetMIMEType(tt.ext)
			if mime != tt.expected || ok != tt.ok {
				t.Errorf("GetMIMEType(%q) = (%q, %v), want (%q, %v)", tt.ext, mime, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestLoadSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.png")
	data := mustPNG(t, gradientImage(40, 20))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	src, err := LoadSourceFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", src.MIMEType)
	}
	if src.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", src.Size, len(data))
	}
	if len(src.Data) != len(data) {
		t.Errorf("len(Data) = %d, want %d", len(src.Data), len(data))
	}
}

func TestLoadSourceFileErrors(t *testing.T) {
	dir := t.TempDir()

	unsupported := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unsupported, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.png")},
		{"directory", dir},
		{"unsupported extension", unsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSourceFile(tt.path); err == nil {
				t.Errorf("LoadSourceFile(%q) expected error", tt.path)
			}
		})
	}
}

func TestSupportedExtensionList(t *testing.T) {
	got := SupportedExtensionList()
	want := []string{".gif", ".jpeg", ".jpg", ".png", ".webp"}
	if len(got) != len(want) {
		t.Fatalf("SupportedExtensionList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SupportedExtensionList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
