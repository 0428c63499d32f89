package llm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldAttachImage(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "page-1.png")
	if err := os.WriteFile(png, []byte("\x89PNG fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	heic := filepath.Join(dir, "scan.heic")
	if err := os.WriteFile(heic, []byte("heic"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  ExtractRequest
		want bool
	}{
		{"low confidence image", ExtractRequest{ImagePath: png, Confidence: 20}, true},
		{"confident text", ExtractRequest{ImagePath: png, Confidence: 80}, false},
		{"no image", ExtractRequest{Confidence: 10}, false},
		{"heic", ExtractRequest{ImagePath: heic, Confidence: 10}, false},
		{"missing file", ExtractRequest{ImagePath: filepath.Join(dir, "gone.png"), Confidence: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attach, url, mt := ShouldAttachImage(tt.req)
			if attach != tt.want {
				t.Fatalf("attach = %v, want %v", attach, tt.want)
			}
			if attach && (mt != "image/png" || !strings.HasPrefix(url, "data:image/png;base64,")) {
				t.Fatalf("mime %q url %q", mt, url)
			}
		})
	}
}
