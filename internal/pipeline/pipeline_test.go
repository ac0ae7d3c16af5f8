package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg6/epub-translator/internal/credpool"
	"github.com/sg6/epub-translator/internal/mockserver"
	"github.com/sg6/epub-translator/internal/xhtml"
)

func parseDoc(t *testing.T, src string) *xhtml.Document {
	t.Helper()
	doc, err := xhtml.Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func poolAgainst(srv *httptest.Server) *credpool.Pool {
	return credpool.NewStaticPool([]credpool.Credential{
		{Key: "test-key", BaseURL: srv.URL + "/v2", ResidualChars: 1_000_000},
	})
}

func TestRunTranslatesEveryTextNode(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultUsage).Handler())
	defer srv.Close()

	doc := parseDoc(t, `<html><body><p>Hello</p><p>World</p></body></html>`)

	p := &Pipeline{
		Pool:               poolAgainst(srv),
		TargetLang:         "ES",
		ConcurrentRequests: 2,
	}

	total, neverTranslated, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 0, neverTranslated)

	var texts []string
	for _, n := range xhtml.TextNodes(doc.HTML()) {
		texts = append(texts, n.Text())
	}
	assert.ElementsMatch(t, []string{
		"--|Hello|-- Translated to ES",
		"--|World|-- Translated to ES",
	}, texts)
}

func TestRunSkipsStyleElementText(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultUsage).Handler())
	defer srv.Close()

	doc := parseDoc(t, `<html><head><style>p{color:red}</style></head><body><p>Hi</p></body></html>`)

	p := &Pipeline{Pool: poolAgainst(srv), TargetLang: "ES", ConcurrentRequests: 1}
	total, _, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "the <style> subtree's text must never be counted or dispatched")
}

func TestRunLeavesEmptyNodesUntouched(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultUsage).Handler())
	defer srv.Close()

	doc := parseDoc(t, `<html><body><p>   </p><p>Hi</p></body></html>`)

	p := &Pipeline{Pool: poolAgainst(srv), TargetLang: "ES", ConcurrentRequests: 1}
	total, neverTranslated, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 0, neverTranslated)

	nodes := xhtml.TextNodes(doc.HTML())
	assert.Equal(t, "   ", nodes[0].Text(), "whitespace-only node must be elided, not sent for translation")
}

// newFlakyHandler fails every /translate request for a given text the first
// failThreshold times it is seen, then succeeds — used to drive the
// writer's retry path deterministically.
func newFlakyHandler(mu *sync.Mutex, attempts map[string]int, failThreshold int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/translate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text       []string `json:"text"`
			TargetLang string   `json:"target_lang"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		mu.Lock()
		attempts[req.Text[0]]++
		n := attempts[req.Text[0]]
		mu.Unlock()

		if n <= failThreshold {
			http.Error(w, "induced failure", http.StatusInternalServerError)
			return
		}

		_ = json.NewEncoder(w).Encode(struct {
			Translations []struct {
				Text string `json:"text"`
			} `json:"translations"`
		}{Translations: []struct {
			Text string `json:"text"`
		}{{Text: "--|" + req.Text[0] + "|-- Translated to " + req.TargetLang}}})
	})
	mux.HandleFunc("/v2/usage", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			CharacterCount int64 `json:"character_count"`
			CharacterLimit int64 `json:"character_limit"`
		}{CharacterCount: 0, CharacterLimit: 1_000_000})
	})
	return mux
}

// newConcurrencyTrackingHandler records the maximum number of /translate
// requests ever in flight at once.
func newConcurrencyTrackingHandler(mu *sync.Mutex, inFlight, maxInFlight *int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/translate", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*inFlight++
		if *inFlight > *maxInFlight {
			*maxInFlight = *inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		*inFlight--
		mu.Unlock()

		var req struct {
			Text       []string `json:"text"`
			TargetLang string   `json:"target_lang"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(struct {
			Translations []struct {
				Text string `json:"text"`
			} `json:"translations"`
		}{Translations: []struct {
			Text string `json:"text"`
		}{{Text: "ok"}}})
	})
	mux.HandleFunc("/v2/usage", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			CharacterCount int64 `json:"character_count"`
			CharacterLimit int64 `json:"character_limit"`
		}{CharacterCount: 0, CharacterLimit: 1_000_000})
	})
	return mux
}

func TestRunRetriesUpToMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}

	srv := httptest.NewServer(newFlakyHandler(&mu, attempts, MaxAttempts-1))
	defer srv.Close()

	doc := parseDoc(t, `<html><body><p>Hello</p></body></html>`)

	p := &Pipeline{Pool: poolAgainst(srv), TargetLang: "ES", ConcurrentRequests: 1}
	total, neverTranslated, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, neverTranslated, "a node should succeed within MaxAttempts retries")

	nodes := xhtml.TextNodes(doc.HTML())
	assert.Contains(t, nodes[0].Text(), "Translated to ES")
}

func TestRunExhaustsRetriesAndLeavesTextUnchanged(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}

	// Always-failing handler: retries exhaust at MaxAttempts and the
	// original text is left untouched (spec.md §7: retry exhaustion is
	// non-fatal, leave source text unchanged, count completed).
	srv := httptest.NewServer(newFlakyHandler(&mu, attempts, MaxAttempts+10))
	defer srv.Close()

	doc := parseDoc(t, `<html><body><p>Hello</p></body></html>`)

	p := &Pipeline{Pool: poolAgainst(srv), TargetLang: "ES", ConcurrentRequests: 1}
	total, neverTranslated, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, neverTranslated)

	nodes := xhtml.TextNodes(doc.HTML())
	assert.Equal(t, "Hello", nodes[0].Text())
}

func TestRunRespectsConcurrencyCeiling(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	srv := httptest.NewServer(newConcurrencyTrackingHandler(&mu, &inFlight, &maxInFlight))
	defer srv.Close()

	src := `<html><body>`
	for i := 0; i < 8; i++ {
		src += "<p>node" + string(rune('a'+i)) + "</p>"
	}
	src += `</body></html>`
	doc := parseDoc(t, src)

	p := &Pipeline{Pool: poolAgainst(srv), TargetLang: "ES", ConcurrentRequests: 2}
	_, _, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 2, "never more than ConcurrentRequests requests may be in flight at once")
}

func TestRunReportsProgress(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultUsage).Handler())
	defer srv.Close()

	doc := parseDoc(t, `<html><body><p>A</p><p>B</p><p>C</p></body></html>`)

	var mu sync.Mutex
	var calls []int
	p := &Pipeline{
		Pool: poolAgainst(srv), TargetLang: "ES", ConcurrentRequests: 3,
		OnProgress: func(completed, total int) {
			mu.Lock()
			calls = append(calls, completed)
			mu.Unlock()
		},
	}
	total, _, err := p.Run(context.Background(), []Document{{Doc: doc, Path: "book.xhtml"}})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, total)
	assert.Equal(t, total, calls[len(calls)-1])
}
