package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"voice-relay/pkg/budget"
	"voice-relay/pkg/config"
	"voice-relay/pkg/models"
	"voice-relay/pkg/providers"
	"voice-relay/pkg/session"
	"voice-relay/pkg/stage"
	"voice-relay/pkg/storage"
)

func newTestRouter(t *testing.T) (*mux.Router, *storage.MemoryStore) {
	t.Helper()

	cfg := &config.Config{
		Segmenter: config.SegmenterConfig{
			PauseThreshold: 2000 * time.Millisecond,
			MaxUtterance:   15 * time.Second,
			ChunkQueueSize: 64,
		},
		Budgets: config.BudgetConfig{
			Transcribe: 2 * time.Second,
			Translate:  1 * time.Second,
			Synthesize: 2 * time.Second,
			Total:      5 * time.Second,
		},
		Pipeline: config.PipelineConfig{
			StageQueueSize:  8,
			ResultQueueSize: 64,
			MaxInFlight:     16,
			VoiceThreshold:  0.02,
		},
		Session: config.SessionConfig{
			IdleTimeout:  time.Hour,
			ReapInterval: time.Second,
			DrainTimeout: 5 * time.Second,
		},
		Languages: []string{"en", "hi"},
	}

	transcriber := providers.NewStubTranscriber("stt-test")
	transcriber.Transcript = "hello"
	chains := stage.Chains{
		Transcribers: []providers.Transcriber{transcriber},
		Translators:  []providers.Translator{providers.NewStubTranslator("mt-test")},
		Synthesizers: []providers.Synthesizer{providers.NewStubSynthesizer("tts-test")},
	}
	adapter := stage.NewAdapter(chains, budget.Default())

	store := storage.NewMemoryStore()
	manager := session.NewManager(cfg, adapter, providers.NewEnergyVoiceDetector(cfg.Pipeline.VoiceThreshold), store)
	manager.Start(context.Background())
	t.Cleanup(manager.Stop)

	router := mux.NewRouter()
	NewHandlers(manager, store).Register(router)
	return router, store
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, router *mux.Router) string {
	t.Helper()
	rec := doJSON(t, router, "POST", "/sessions", map[string]string{
		"user_id":         "user-1",
		"source_language": "en",
		"target_language": "hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["session_id"] == "" {
		t.Fatal("missing session_id in response")
	}
	return resp["session_id"]
}

func voicedChunk(ms int64) []byte {
	data := make([]byte, ms*32)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(8000)))
	}
	return data
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	id := startSession(t, router)

	rec := doJSON(t, router, "GET", "/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: expected 200, got %d", rec.Code)
	}
	var live models.AudioSession
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if live.Status != models.SessionActive {
		t.Errorf("expected active session, got %s", live.Status)
	}

	ts := int64(0)
	for i := 0; i < 3; i++ {
		rec = doJSON(t, router, "POST", "/sessions/"+id+"/chunks", map[string]interface{}{
			"direction": 0,
			"timestamp": ts,
			"data":      voicedChunk(300),
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("chunk %d: expected 202, got %d: %s", i, rec.Code, rec.Body)
		}
		ts += 300
	}

	rec = doJSON(t, router, "DELETE", "/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var summary models.SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.UtteranceCount != 1 {
		t.Errorf("expected 1 utterance in summary, got %d", summary.UtteranceCount)
	}

	// The finished session is served from storage.
	rec = doJSON(t, router, "GET", "/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get finished session: expected 200, got %d", rec.Code)
	}
	var finished models.AudioSession
	if err := json.Unmarshal(rec.Body.Bytes(), &finished); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if finished.Status != models.SessionCompleted {
		t.Errorf("expected completed session, got %s", finished.Status)
	}

	rec = doJSON(t, router, "GET", "/sessions/"+id+"/utterances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list utterances: expected 200, got %d", rec.Code)
	}
	var utterances []*models.Utterance
	if err := json.Unmarshal(rec.Body.Bytes(), &utterances); err != nil {
		t.Fatalf("failed to decode utterances: %v", err)
	}
	if len(utterances) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utterances))
	}
	if utterances[0].TranslatedText != "[hi] hello" {
		t.Errorf("unexpected translation %q", utterances[0].TranslatedText)
	}

	// Synthesized audio is retrievable by reference.
	rec = doJSON(t, router, "GET", "/audio/"+utterances[0].AudioRef, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get audio: expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "pcm:hi:[hi] hello" {
		t.Errorf("unexpected audio body %q", rec.Body)
	}
}

func TestStartSessionRejectsBadRequests(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name string
		body interface{}
	}{
		{"unsupported language", map[string]string{"user_id": "u", "source_language": "xx", "target_language": "hi"}},
		{"same pair", map[string]string{"user_id": "u", "source_language": "en", "target_language": "en"}},
		{"missing user", map[string]string{"source_language": "en", "target_language": "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, "POST", "/sessions", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}

	req := httptest.NewRequest("POST", "/sessions", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestChunkErrorsMapToStatusCodes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/sessions/no-such-id/chunks", map[string]interface{}{
		"direction": 0,
		"timestamp": 0,
		"data":      voicedChunk(100),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown session: expected 400, got %d", rec.Code)
	}

	id := startSession(t, router)

	rec = doJSON(t, router, "POST", "/sessions/"+id+"/chunks", map[string]interface{}{
		"direction": 5,
		"timestamp": 0,
		"data":      voicedChunk(100),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad direction: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/sessions/"+id+"/chunks", map[string]interface{}{
		"direction": 0,
		"timestamp": 0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty audio: expected 400, got %d", rec.Code)
	}
}

func TestGetMissingResources(t *testing.T) {
	router, _ := newTestRouter(t)

	if rec := doJSON(t, router, "GET", "/sessions/absent", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing session: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, router, "GET", "/audio/absent", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing audio: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, router, "DELETE", "/sessions/absent", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("ending missing session: expected 400, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("unexpected health payload %v", resp)
	}
}
