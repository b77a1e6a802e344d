package canvas

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestReadSourceFile(t *testing.T) {
	data := encodePNG(t, createTestImage(40, 30))
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadSource(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadSource failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("file contents differ")
	}

	if _, err := ReadSource(context.Background(), filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFetch(t *testing.T) {
	data := encodePNG(t, createTestImage(40, 30))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scan.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got, err := ReadSource(context.Background(), srv.URL+"/scan.png")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, err := New().Load(bytes.NewReader(got)); err != nil {
		t.Errorf("fetched bytes do not decode: %v", err)
	}

	if _, err := Fetch(context.Background(), srv.URL+"/page"); err == nil {
		t.Error("expected error for non-image content type")
	}
	if _, err := Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := Fetch(context.Background(), "ftp://example.com/scan.png"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestIsURL(t *testing.T) {
	if !IsURL("https://pacs.local/a.png") || IsURL("/data/a.png") {
		t.Error("IsURL misclassified a source")
	}
}
