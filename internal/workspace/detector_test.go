package workspace

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestDetectProjectTypeManifest(t *testing.T) {
	tests := []struct {
		manifest string
		want     ProjectType
	}{
		{"go.mod", ProjectTypeGo},
		{"package.json", ProjectTypeNode},
		{"pyproject.toml", ProjectTypePython},
		{"Cargo.toml", ProjectTypeRust},
	}
	for _, tt := range tests {
		t.Run(tt.manifest, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, tt.manifest), "")
			if got := DetectProjectType(dir); got != tt.want {
				t.Errorf("DetectProjectType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectProjectTypeExtensionFallback(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		writeFile(t, filepath.Join(dir, fmt.Sprintf("f%d.py", i)), "pass")
	}
	if got := DetectProjectType(dir); got != ProjectTypePython {
		t.Errorf("DetectProjectType = %q, want python", got)
	}
}

func TestDetectProjectTypeUnknown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	if got := DetectProjectType(dir); got != ProjectTypeUnknown {
		t.Errorf("DetectProjectType = %q, want unknown", got)
	}
}
