package utils

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"photo.JPG", true},
		{"scan.tif", true},
		{"shot.webp", true},
		{"notes.txt", false},
		{"noext", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsImageFile(tt.name); got != tt.want {
				t.Errorf("IsImageFile(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format string
		want   string
	}{
		{"explicit format", "/in/cat.png", "webp", filepath.Join("out", "crop_cat_1x1.webp")},
		{"keeps extension", "/in/cat.png", "", filepath.Join("out", "crop_cat_1x1.png")},
		{"defaults to jpg", "/in/cat", "", filepath.Join("out", "crop_cat_1x1.jpg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputPath(tt.input, "out", "crop_", "_1x1", tt.format); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.png", "readme.md", "sub/c.webp", ".cache/d.jpg"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	flat, err := ListImageFiles(dir, false)
	if err != nil {
		t.Fatalf("ListImageFiles failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.jpg")}
	if !slices.Equal(flat, want) {
		t.Errorf("Expected %v, got %v", want, flat)
	}

	all, err := ListImageFiles(dir, true)
	if err != nil {
		t.Fatalf("ListImageFiles failed: %v", err)
	}
	if len(all) != 3 || all[2] != filepath.Join(dir, "sub", "c.webp") {
		t.Errorf("Expected three files ending in sub/c.webp, got %v", all)
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatFileSize(tt.size); got != tt.want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Expected directory %s", dir)
	}
}
