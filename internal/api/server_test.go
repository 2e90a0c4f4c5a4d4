package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"notescribe/internal/analysis"
	"notescribe/internal/api"
	"notescribe/internal/config"
	"notescribe/internal/services"
	"notescribe/internal/testsupport"
	"notescribe/internal/transcribe"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Detail  string          `json:"detail"`
}

type decoderFunc func(ctx context.Context, data []byte) (analysis.Waveform, error)

func (f decoderFunc) DecodeBytes(ctx context.Context, data []byte) (analysis.Waveform, error) {
	return f(ctx, data)
}

func newServer(t *testing.T, cfg *config.Config, opts ...api.Option) *api.Server {
	t.Helper()
	analyzer, err := transcribe.FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	var store api.HistoryStore
	if cfg.History.Enabled {
		store = testsupport.MustOpenHistory(t, cfg)
	}
	srv, err := api.New(cfg, analyzer, store, nil, opts...)
	if err != nil {
		t.Fatalf("api.New returned error: %v", err)
	}
	return srv
}

func toneWAV(t *testing.T) []byte {
	t.Helper()
	path := testsupport.WriteWAV(t, filepath.Join(t.TempDir(), "a4.wav"), testsupport.Sine(440, 1.0, 0.5))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestAnalyzeStoresResult(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutSecondary())
	srv := newServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze?name=tone.wav", bytes.NewReader(toneWAV(t)))
	w, env := do(t, srv.Handler(), req)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
	var res api.AnalysisResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if len(res.Notes) != 1 || res.Notes[0].Note != "A4" {
		t.Fatalf("unexpected notes: %+v", res.Notes)
	}
	if !res.Stored || res.Source != "tone.wav" || res.SampleRate != testsupport.SampleRate {
		t.Fatalf("unexpected analysis metadata: %+v", res)
	}

	w, env = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var list api.HistoryListResponse
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != res.RequestID || list.Items[0].NoteCount != 1 {
		t.Fatalf("unexpected history: %+v", list.Items)
	}

	w, env = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/history/"+res.RequestID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var item api.HistoryItem
	if err := json.Unmarshal(env.Data, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if len(item.Notes) != 1 || item.Notes[0].Note != "A4" || item.Source != "tone.wav" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestAnalyzeAcceptsMultipartUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutSecondary())
	srv := newServer(t, cfg)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "melody.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(toneWAV(t)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, env := do(t, srv.Handler(), req)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
	var res api.AnalysisResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if res.Source != "melody.wav" {
		t.Fatalf("unexpected source: %q", res.Source)
	}
}

func TestAnalyzeErrorsUseEnvelope(t *testing.T) {
	failing := decoderFunc(func(context.Context, []byte) (analysis.Waveform, error) {
		return analysis.Waveform{}, services.Wrap(services.ErrInput, "pcm", "decode", "could not decode audio", errors.New("bad header"))
	})
	broken := decoderFunc(func(context.Context, []byte) (analysis.Waveform, error) {
		return analysis.Waveform{}, services.Wrap(services.ErrExternalTool, "pcm", "ffmpeg", "ffmpeg unavailable", nil)
	})

	cases := []struct {
		name    string
		decoder api.Decoder
		body    []byte
		status  int
		label   string
	}{
		{"decode failure", failing, []byte("not audio"), http.StatusUnprocessableEntity, services.ErrInput.Error()},
		{"tool failure", broken, []byte("not audio"), http.StatusBadGateway, services.ErrExternalTool.Error()},
		{"empty body", failing, nil, http.StatusUnprocessableEntity, services.ErrInput.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			srv := newServer(t, cfg, api.WithDecoder(tc.decoder))
			w, env := do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(tc.body)))
			if w.Code != tc.status {
				t.Fatalf("unexpected status: got %d want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if env.Success || env.Error != tc.label || env.Detail == "" {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		})
	}
}

func TestAnalyzeRejectsOversizedUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.MaxUploadMiB = 1
	srv := newServer(t, cfg)

	body := bytes.Repeat([]byte{0x42}, 2<<20)
	w, env := do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(body)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: got %d want 413", w.Code)
	}
	if env.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestAnalyzePrunesHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutSecondary(), testsupport.WithHistoryLimit(1))
	short := decoderFunc(func(context.Context, []byte) (analysis.Waveform, error) {
		return testsupport.Wave(testsupport.Sine(329.63, 0.3, 0.5)), nil
	})
	srv := newServer(t, cfg, api.WithDecoder(short))

	for i := 0; i < 2; i++ {
		w, _ := do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader([]byte("audio"))))
		if w.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d %s", w.Code, w.Body.String())
		}
	}

	_, env := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/history?limit=0", nil))
	var list api.HistoryListResponse
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("unexpected history length: got %d want 1", len(list.Items))
	}
}

func TestHistoryItemNotFound(t *testing.T) {
	srv := newServer(t, testsupport.NewConfig(t))
	w, env := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/history/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want 404", w.Code)
	}
	if env.Error != services.ErrNotFound.Error() {
		t.Fatalf("unexpected error label: %q", env.Error)
	}
}

func TestHistoryListRejectsBadLimit(t *testing.T) {
	srv := newServer(t, testsupport.NewConfig(t))
	w, _ := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/history?limit=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want 400", w.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutSecondary())
	cfg.History.Enabled = false
	srv := newServer(t, cfg)

	w, env := do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(toneWAV(t))))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", w.Code, w.Body.String())
	}
	var res api.AnalysisResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if res.Stored {
		t.Fatal("result should not be stored when history is disabled")
	}

	_, env = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/history", nil))
	var list api.HistoryListResponse
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Items == nil || len(list.Items) != 0 {
		t.Fatalf("expected empty items, got %+v", list.Items)
	}
}

func TestHealthReportsDependencies(t *testing.T) {
	srv := newServer(t, testsupport.NewConfig(t))
	w, env := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
	var health api.HealthResponse
	if err := json.Unmarshal(env.Data, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status == "" || !health.HistoryEnabled {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.Dependencies) != 2 || health.Dependencies[0].Name != "ffmpeg" {
		t.Fatalf("unexpected dependencies: %+v", health.Dependencies)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.AllowedOrigins = []string{"http://app.example"}
	srv := newServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example" {
		t.Fatalf("unexpected allow origin: %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for foreign site: %q", got)
	}
}

func TestStartHoldsInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newServer(t, cfg)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer first.Stop()
	if first.Addr() == "" {
		t.Fatal("expected bound address")
	}

	resp, err := http.Get("http://" + first.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	second, err := api.New(cfg, mustAnalyzer(t, cfg), nil, nil)
	if err != nil {
		t.Fatalf("api.New returned error: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, api.ErrAlreadyRunning) {
		t.Fatalf("unexpected error: got %v want ErrAlreadyRunning", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after Stop returned error: %v", err)
	}
	second.Stop()
}

func mustAnalyzer(t *testing.T, cfg *config.Config) *transcribe.Analyzer {
	t.Helper()
	a, err := transcribe.FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	return a
}
