package core

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/e7canasta/tilefeed/internal/capture"
	"github.com/e7canasta/tilefeed/internal/config"
	"github.com/e7canasta/tilefeed/internal/store"
	"github.com/e7canasta/tilefeed/internal/tiles"
)

const testDictionary = `
glyphs:
  - {sig: "FF80808080808080", id: 121, role: corner-tl}
  - {sig: "FF01010101010101", id: 122, role: corner-tr}
  - {sig: "80808080808080FF", id: 123, role: corner-bl}
  - {sig: "01010101010101FF", id: 124, role: corner-br}
  - {sig: "FF00000000000000", id: 125, role: edge-h}
  - {sig: "8080808080808080", id: 126, role: edge-v}
  - {sig: "8181FF8181818100", id: 7, text: "H"}
  - {sig: "3C18181818183C00", id: 8, text: "I"}
`

var testGlyphs = map[string]string{
	"tl": "FF80808080808080", "tr": "FF01010101010101",
	"bl": "80808080808080FF", "br": "01010101010101FF",
	"h": "FF00000000000000", "v": "8080808080808080",
	"H": "8181FF8181818100", "I": "3C18181818183C00",
}

// blankFrame is a white 640x480 frame.
func blankFrame() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func paint(t *testing.T, img *image.Gray, tx, ty int, glyph string) {
	t.Helper()
	sig, err := tiles.ParseSignature(testGlyphs[glyph])
	if err != nil {
		t.Fatal(err)
	}
	tiles.Paint(img, tx, ty, sig, 0, 255)
}

// dialogFrame draws a bottom dialog box holding "HI".
func dialogFrame(t *testing.T) *image.Gray {
	img := blankFrame()
	const top, bottom = 12, 17
	paint(t, img, 0, top, "tl")
	paint(t, img, 19, top, "tr")
	paint(t, img, 0, bottom, "bl")
	paint(t, img, 19, bottom, "br")
	for x := 1; x < 19; x++ {
		paint(t, img, x, top, "h")
		paint(t, img, x, bottom, "h")
	}
	for y := top + 1; y < bottom; y++ {
		paint(t, img, 0, y, "v")
		paint(t, img, 19, y, "v")
	}
	paint(t, img, 1, top+2, "H")
	paint(t, img, 2, top+2, "I")
	return img
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	dict := filepath.Join(dir, "glyphs.yaml")
	if err := os.WriteFile(dict, []byte(testDictionary), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Source:     config.SourceConfig{Kind: "mock"},
		Processing: config.ProcessingConfig{RateLimit: "off"},
		Recognition: config.RecognitionConfig{
			Dictionary:    dict,
			Crop:          config.Rect{W: 160, H: 144},
			Interpolation: "nearest",
		},
		Output: config.OutputConfig{
			FrameLog: "-",
			Database: filepath.Join(dir, "tilefeed.db"),
		},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestService_RunsFiniteSource(t *testing.T) {
	cfg := testConfig(t)

	mock := capture.NewMockSource(640, 480)
	mock.Images = []*image.Gray{dialogFrame(t), blankFrame()}
	mock.Limit = 4

	svc, err := NewService(cfg, WithOpener(mock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	health := svc.HealthCheck()
	if health.Processed != 4 {
		t.Errorf("processed = %d, want 4", health.Processed)
	}
	if health.Status == "unhealthy" {
		t.Errorf("status = %s before shutdown", health.Status)
	}

	srv := httptest.NewServer(svc.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readiness")
	if err != nil {
		t.Fatal(err)
	}
	var got HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Errorf("decode readiness: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || got.Processed != 4 {
		t.Errorf("readiness = %d %+v", resp.StatusCode, got)
	}

	resp, err = http.Get(srv.URL + "/transcripts/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing transcript status = %d", resp.StatusCode)
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if svc.HealthCheck().Status != "unhealthy" {
		t.Error("stopped service should be unhealthy")
	}

	// The box was shown twice; the repeat is suppressed
	st, err := store.Open(cfg.Output.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	us, err := st.Utterances(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(us) != 1 || us[0].Text != "HI" {
		t.Errorf("utterances = %+v, want one HI", us)
	}
}

func TestNewService_MissingDictionary(t *testing.T) {
	cfg := testConfig(t)
	os.Remove(cfg.Recognition.Dictionary)

	if _, err := NewService(cfg, WithOpener(capture.NewMockSource(640, 480))); err == nil {
		t.Fatal("NewService() should fail without a dictionary")
	}
}

func TestService_ShutdownBeforeRun(t *testing.T) {
	svc, err := NewService(testConfig(t), WithOpener(capture.NewMockSource(640, 480)))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
