package prediction

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, path string, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var uploaded string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		uploaded = hdr.Filename + ":" + string(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &uploaded
}

func TestNewClientRejectsScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com", 0); err == nil {
		t.Error("expected error for ftp URL")
	}
	if _, err := NewClient("", 0); err != nil {
		t.Errorf("expected default URL to be accepted: %v", err)
	}
}

func TestAnalyzeChestXray(t *testing.T) {
	srv, uploaded := newTestServer(t, chestXrayPath, http.StatusOK, sampleAnalysis)
	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.AnalyzeChestXray(context.Background(), "scan.png", strings.NewReader("PIXELS"))
	if err != nil {
		t.Fatalf("AnalyzeChestXray failed: %v", err)
	}
	if res.Kind != KindAnalysis || len(res.Analysis.Regions) != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if *uploaded != "scan.png:PIXELS" {
		t.Errorf("server saw upload %q", *uploaded)
	}
}

func TestAnalyzeChestXrayServiceError(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusInternalServerError} {
		srv, _ := newTestServer(t, chestXrayPath, status, `{"error":"no lungs found"}`)
		c, _ := NewClient(srv.URL, time.Second)

		res, err := c.AnalyzeChestXray(context.Background(), "scan.png", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("status %d: unexpected transport error %v", status, err)
		}
		if res.Kind != KindError || res.Err.Message != "no lungs found" {
			t.Errorf("status %d: unexpected result %+v", status, res)
		}
	}
}

func TestAnalyzeChestXrayBadStatus(t *testing.T) {
	srv, _ := newTestServer(t, chestXrayPath, http.StatusBadGateway, "upstream down")
	c, _ := NewClient(srv.URL, time.Second)

	if _, err := c.AnalyzeChestXray(context.Background(), "scan.png", strings.NewReader("x")); err == nil {
		t.Error("expected error for 502 without error payload")
	}
}

func TestAnalyzeBrainScan(t *testing.T) {
	srv, _ := newTestServer(t, brainScanPath, http.StatusOK, `{"prediction":"glioma"}`)
	c, _ := NewClient(srv.URL, time.Second)

	got, err := c.AnalyzeBrainScan(context.Background(), "mri.jpg", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("AnalyzeBrainScan failed: %v", err)
	}
	if got.Prediction != "glioma" {
		t.Errorf("unexpected prediction %q", got.Prediction)
	}

	srv, _ = newTestServer(t, brainScanPath, http.StatusOK, `{"error":"unreadable"}`)
	c, _ = NewClient(srv.URL, time.Second)
	if _, err := c.AnalyzeBrainScan(context.Background(), "mri.jpg", strings.NewReader("x")); !errors.Is(err, ErrPrediction) {
		t.Errorf("expected ErrPrediction, got %v", err)
	}
}
