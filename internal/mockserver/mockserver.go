// Package mockserver is the test collaborator described in spec.md §6: it
// mirrors the three DeepL v2 endpoints the pipeline talks to, introducing a
// deliberate delay on /translate so integration tests exercise real
// concurrency, and is also reachable from the CLI's --test flag.
package mockserver

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

//go:embed testdata/languages.json
var fixtures embed.FS

// Addr is the fixed loopback address the mock server binds to, matching the
// BaseURLMock the deepl client dials under --test.
const Addr = "127.0.0.1:3030"

// TranslateDelay is the artificial per-request delay on /translate, chosen
// to be large enough that a test asserting on concurrency bound (spec §8
// property 5) can observe overlapping in-flight requests.
const TranslateDelay = 400 * time.Millisecond

// Usage is the fixed usage figures the mock server reports.
type Usage struct {
	CharacterCount int64
	CharacterLimit int64
}

// Server is an httptest-friendly mock DeepL server. Use New for a server on
// an ephemeral port (tests) or ListenAndServe for the fixed --test address.
type Server struct {
	mux   *http.ServeMux
	usage Usage
}

// DefaultUsage matches spec.md scenario S2.
var DefaultUsage = Usage{CharacterCount: 1000, CharacterLimit: 500_000}

// New builds a Server with the given usage figures.
func New(usage Usage) *Server {
	s := &Server{mux: http.NewServeMux(), usage: usage}
	s.mux.HandleFunc("/v2/translate", s.handleTranslate)
	s.mux.HandleFunc("/v2/usage", s.handleUsage)
	s.mux.HandleFunc("/v2/languages", s.handleLanguages)
	return s
}

// Handler returns the server's http.Handler, for wrapping in httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.mux }

type translateRequest struct {
	Text       []string `json:"text"`
	TargetLang string   `json:"target_lang"`
}

type translation struct {
	DetectedSourceLanguage string `json:"detected_source_language"`
	Text                   string `json:"text"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Text) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	time.Sleep(TranslateDelay)

	translations := make([]translation, len(req.Text))
	for i, t := range req.Text {
		translations[i] = translation{
			DetectedSourceLanguage: "EN",
			Text:                   fmt.Sprintf("--|%s|-- Translated to %s", t, req.TargetLang),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Translations []translation `json:"translations"`
	}{Translations: translations})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		CharacterCount int64 `json:"character_count"`
		CharacterLimit int64 `json:"character_limit"`
	}{CharacterCount: s.usage.CharacterCount, CharacterLimit: s.usage.CharacterLimit})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") == "target" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
		return
	}

	data, err := fixtures.ReadFile("testdata/languages.json")
	if err != nil {
		http.Error(w, "fixture unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// ListenAndServe starts the mock server on Addr and blocks until shutdown
// receives a value or ctx is cancelled.
func ListenAndServe(ctx context.Context, usage Usage, shutdown <-chan struct{}) error {
	s := New(usage)
	srv := &http.Server{Addr: Addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-shutdown:
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
