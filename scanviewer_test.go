package scanviewer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/prediction"
)

const resultJSON = `{
	"bounding_boxes": [
		[[10, 10, 120, 120], "left lower lobe"],
		[[200, 200, 300, 300], "right hilum"]
	],
	"summary": "Consolidation in the left lower lobe.",
	"pneumonia": "Pneumonia",
	"height": 512,
	"width": 512
}`

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	scanPath := filepath.Join(dir, "chest.png")
	f, err := os.Create(scanPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, createTestImage(800, 600)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	resultPath := filepath.Join(dir, "prediction.json")
	if err := os.WriteFile(resultPath, []byte(resultJSON), 0644); err != nil {
		t.Fatal(err)
	}
	return scanPath, resultPath
}

func TestNew(t *testing.T) {
	v := New()
	if v == nil || v.Session() == nil {
		t.Fatal("New() returned an incomplete viewer")
	}
	if v.Session().Phase().String() != "pre-upload" {
		t.Errorf("phase = %v", v.Session().Phase())
	}
}

func TestLoadAndExport(t *testing.T) {
	scanPath, resultPath := writeFixtures(t)

	result, err := OpenResult(resultPath)
	if err != nil {
		t.Fatalf("OpenResult failed: %v", err)
	}

	v := NewWithOptions(Options{StrokeWidth: 3, Workers: 2})
	if err := v.LoadFile(context.Background(), scanPath, result); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "out")
	paths, err := v.ExportVariants(scanPath, ExportOptions{Dir: outDir, Suffix: "_region"})
	if err != nil {
		t.Fatalf("ExportVariants failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 exported variants, got %d", len(paths))
	}
	if filepath.Base(paths[1]) != "chest_region_01.png" {
		t.Errorf("unexpected name %s", paths[1])
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("exported variant is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != canvas.Size || img.Bounds().Dy() != canvas.Size {
		t.Errorf("variant size = %v", img.Bounds())
	}
}

func TestSaveFrame(t *testing.T) {
	scanPath, resultPath := writeFixtures(t)
	result, _ := OpenResult(resultPath)

	v := New()
	if err := v.LoadFile(context.Background(), scanPath, result); err != nil {
		t.Fatal(err)
	}
	v.Session().ZoomIn()

	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := v.SaveFrame(path, 640, 480, ExportOptions{Format: "jpg"}); err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("frame not written: %v", err)
	}
}

func TestOpenResultErrors(t *testing.T) {
	if _, err := OpenResult(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "both.json")
	os.WriteFile(path, []byte(`{"error":"x","bounding_boxes":[]}`), 0644)
	if _, err := OpenResult(path); !errors.Is(err, prediction.ErrMalformedResult) {
		t.Errorf("expected ErrMalformedResult, got %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, resultPath := writeFixtures(t)
	result, _ := OpenResult(resultPath)
	if err := New().LoadFile(context.Background(), "/nonexistent/scan.png", result); err == nil {
		t.Error("expected error for missing scan")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion() = %q", GetVersion())
	}
}
