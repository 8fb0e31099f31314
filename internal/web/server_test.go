package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/calliope/internal/models"
	"github.com/zulandar/calliope/internal/voice"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type nullFetcher struct{}

func (nullFetcher) Fetch(ctx context.Context, source, destDir string) (string, error) {
	return "", nil
}

type nullTranscoder struct{}

func (nullTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	return nil
}

func newTestRegistry(t *testing.T) (*voice.Registry, *voice.MockTransport) {
	t.Helper()
	transport := voice.NewMockTransport()
	pipe, err := voice.NewPipeline(voice.PipelineOpts{
		Fetcher:    nullFetcher{},
		Transcoder: nullTranscoder{},
		DataDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	registry, err := voice.NewRegistry(voice.RegistryOpts{Transport: transport, Pipeline: pipe})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry, transport
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.PlayRecord{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return gdb
}

func get(t *testing.T, router http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStart_RequiresRegistry(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "registry is required") {
		t.Fatalf("error = %v, want registry is required", err)
	}
}

func TestHealthz_NoAuth(t *testing.T) {
	registry, _ := newTestRegistry(t)
	router := buildRouter(registry, nil, "s3cret")

	w := get(t, router, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestAPI_RejectsMissingOrWrongToken(t *testing.T) {
	registry, _ := newTestRegistry(t)
	router := buildRouter(registry, nil, "s3cret")

	for _, token := range []string{"", "wrong"} {
		w := get(t, router, "/api/status", token)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, w.Code)
		}
	}
}

func TestAPI_Status(t *testing.T) {
	registry, _ := newTestRegistry(t)
	registry.GetOrCreate("100")
	registry.GetOrCreate("200")
	router := buildRouter(registry, nil, "s3cret")

	w := get(t, router, "/api/status", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Sessions int `json:"sessions"`
		Playing  int `json:"playing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Sessions != 2 || body.Playing != 0 {
		t.Errorf("body = %+v", body)
	}
}

func TestAPI_Sessions(t *testing.T) {
	registry, _ := newTestRegistry(t)
	s := registry.GetOrCreate("100")
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	router := buildRouter(registry, nil, "s3cret")

	w := get(t, router, "/api/sessions", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(body.Sessions))
	}
	got := body.Sessions[0]
	if got.ChatID != "100" || got.State != "active" || !got.Connected {
		t.Errorf("session = %+v", got)
	}
}

func TestAPI_History(t *testing.T) {
	registry, _ := newTestRegistry(t)
	gdb := openTestDB(t)
	for _, src := range []string{"https://x/a", "https://x/b"} {
		gdb.Create(&models.PlayRecord{ChatID: "100", Source: src, Kind: "url", PlayedAt: time.Now()})
	}
	router := buildRouter(registry, gdb, "s3cret")

	w := get(t, router, "/api/history", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Plays []models.PlayRecord `json:"plays"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Plays) != 2 {
		t.Errorf("plays = %d, want 2", len(body.Plays))
	}
}

func TestAPI_HistoryWithoutDB(t *testing.T) {
	registry, _ := newTestRegistry(t)
	router := buildRouter(registry, nil, "s3cret")

	w := get(t, router, "/api/history", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "plays") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := generateSecret()
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if a == b {
		t.Error("two generated secrets are identical")
	}
}
