package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"video-tagging-api/analyzer"
	"video-tagging-api/contentunderstanding"
	"video-tagging-api/runs"
	"video-tagging-api/storage"
	"video-tagging-api/utils"
)

func tl(t *testing.T) *zap.Logger {
	cfg := zap.NewProductionConfig()
	l, err := cfg.Build()
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type memStore struct{}

func (memStore) Upload(_ context.Context, _ string, body io.Reader, _ string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (memStore) SignedURL(_ context.Context, key string, ttl time.Duration) (storage.SignedURL, error) {
	return storage.SignedURL{URL: "https://example.blob.core.windows.net/videos/" + key, ExpiresAt: time.Now().Add(ttl)}, nil
}

type stubService struct {
	mu            sync.Mutex
	createTimeout bool
	deleted       int
}

func (s *stubService) BeginCreateAnalyzer(_ context.Context, id string, _ []byte) (*contentunderstanding.Operation, error) {
	return &contentunderstanding.Operation{AnalyzerID: id, Location: "create"}, nil
}

func (s *stubService) BeginAnalyze(_ context.Context, id, _ string) (*contentunderstanding.Operation, error) {
	return &contentunderstanding.Operation{AnalyzerID: id, Location: "analyze"}, nil
}

func (s *stubService) PollResult(_ context.Context, op *contentunderstanding.Operation, timeout time.Duration) (json.RawMessage, error) {
	if op.Location == "create" {
		if s.createTimeout {
			return nil, fmt.Errorf("%w after %.2f seconds", contentunderstanding.ErrPollTimeout, timeout.Seconds())
		}
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(`{"tags":["cat"]}`), nil
}

func (s *stubService) DeleteAnalyzer(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted++
	return nil
}

func testRouter(t *testing.T, service *stubService, ledger runs.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := tl(t)
	pipeline := analyzer.NewPipeline(utils.NewSpool(afero.NewMemMapFs(), "/spool"), memStore{}, service, ledger, nil, l, analyzer.DefaultOptions())

	r := gin.New()
	r.POST("/analyze", HandleAnalyze(l, pipeline))
	r.GET("/analyze/runs", HandleListRuns(l, ledger))
	r.GET("/analyze/runs/:id", HandleGetRun(l, ledger))
	return r
}

func multipartRequest(t *testing.T, parts map[string][2]string) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, p := range parts {
		fw, err := w.CreateFormFile(field, p[0])
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write([]byte(p[1])); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req, _ := http.NewRequest("POST", "/analyze", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAnalyzeReturnsServiceResult(t *testing.T) {
	service := &stubService{}
	ledger := runs.NewMemoryStore()
	r := testRouter(t, service, ledger)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, map[string][2]string{
		"file":   {"clip.mp4", "\x00\x00\x00\x18ftypmp42"},
		"schema": {"schema.json", `{"fieldSchema":{"fields":{"tags":{"type":"array"}}}}`},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status: %d body: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"tags":["cat"]}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if service.deleted != 1 {
		t.Fatalf("expected analyzer to be deleted once, got %d", service.deleted)
	}

	runID := w.Header().Get("X-Run-Id")
	if runID == "" {
		t.Fatalf("missing X-Run-Id header")
	}

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("GET", "/analyze/runs/"+runID, nil)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("get run status: %d", w2.Code)
	}
	var run runs.Run
	if err := json.Unmarshal(w2.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != runs.StatusSucceeded || run.AnalyzerState != runs.AnalyzerDeleted {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.MediaName != "clip.mp4" || run.SchemaName != "schema.json" {
		t.Fatalf("unexpected names: %+v", run)
	}
}

func TestAnalyzeMissingParts(t *testing.T) {
	cases := map[string]map[string][2]string{
		"no schema": {"file": {"clip.mp4", "video"}},
		"no file":   {"schema": {"schema.json", `{}`}},
	}
	for name, parts := range cases {
		t.Run(name, func(t *testing.T) {
			service := &stubService{}
			r := testRouter(t, service, runs.NewMemoryStore())

			w := httptest.NewRecorder()
			r.ServeHTTP(w, multipartRequest(t, parts))
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status: %d", w.Code)
			}
			body := decodeError(t, w)
			if body["error"] == "" {
				t.Fatalf("expected error message, got %v", body)
			}
			if body["kind"] != string(analyzer.KindInput) {
				t.Fatalf("expected input kind, got %v", body)
			}
			if service.deleted != 0 {
				t.Fatalf("no analyzer should have been touched")
			}
		})
	}
}

func TestAnalyzeCreationTimeout(t *testing.T) {
	service := &stubService{createTimeout: true}
	r := testRouter(t, service, runs.NewMemoryStore())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, map[string][2]string{
		"file":   {"clip.mp4", "video"},
		"schema": {"schema.json", `{}`},
	}))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", w.Code)
	}
	body := decodeError(t, w)
	if body["error"] != "create analyzer: operation timed out after 120.00 seconds" {
		t.Fatalf("unexpected error: %q", body["error"])
	}
	if body["kind"] != string(analyzer.KindTimeout) {
		t.Fatalf("unexpected kind: %q", body["kind"])
	}
	if service.deleted != 0 {
		t.Fatalf("delete must not run when creation did not complete, got %d", service.deleted)
	}
}

func TestListRunsEmpty(t *testing.T) {
	r := testRouter(t, &stubService{}, runs.NewMemoryStore())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/analyze/runs", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status: %d", w.Code)
	}
	if w.Body.String() != "[]" {
		t.Fatalf("expected empty list, got %s", w.Body.String())
	}
}

func TestGetRunNotFound(t *testing.T) {
	r := testRouter(t, &stubService{}, runs.NewMemoryStore())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/analyze/runs/missing", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get status: %d", w.Code)
	}
}
