// Package credpool discovers DeepL API credentials, classifies each as
// free or pro, reads its residual quota, and builds the weighted dispatch
// vector the pipeline indexes by job id.
package credpool

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"

	"github.com/sg6/epub-translator/internal/deepl"
)

// MinResidual is the safety margin below which a credential is dropped from
// the pool entirely.
const MinResidual = 20_000

// Credential is one discovered API key, its chosen base URL, and its
// residual character capacity at discovery time. Immutable after discovery.
type Credential struct {
	Key           string
	BaseURL       string
	ResidualChars int64
}

// Pool is the weighted dispatch vector: credentials duplicated in
// proportion to residual capacity, then shuffled. The dispatcher indexes it
// by job id modulo its length.
//
// A *deepl.Client is immutable and clone-cheap (spec §5): each distinct
// credential gets exactly one Client, built once here and shared by
// reference across every worker that lands on that credential, rather than
// constructed afresh per job.
type Pool struct {
	vector  []Credential
	clients map[string]*deepl.Client
}

// newPool builds a Pool over vector, constructing one shared deepl.Client
// per distinct credential.
func newPool(vector []Credential) *Pool {
	clients := make(map[string]*deepl.Client)
	for _, c := range vector {
		key := c.Key + "|" + c.BaseURL
		if _, ok := clients[key]; !ok {
			clients[key] = deepl.New(c.Key, c.BaseURL)
		}
	}
	return &Pool{vector: vector, clients: clients}
}

// Len returns the number of slots in the dispatch vector.
func (p *Pool) Len() int { return len(p.vector) }

// At returns the credential assigned to job id, chosen by id mod len(vector).
func (p *Pool) At(id int) Credential {
	return p.vector[id%len(p.vector)]
}

// ClientAt returns the shared deepl.Client for the credential assigned to
// job id. The client is built once per credential in newPool, not per call.
func (p *Pool) ClientAt(id int) *deepl.Client {
	cred := p.At(id)
	return p.clients[cred.Key+"|"+cred.BaseURL]
}

// Credentials returns the distinct credentials backing the pool, for
// reporting total residual capacity.
func (p *Pool) Credentials() []Credential {
	seen := map[string]bool{}
	var out []Credential
	for _, c := range p.vector {
		if !seen[c.Key] {
			seen[c.Key] = true
			out = append(out, c)
		}
	}
	return out
}

// NewStaticPool builds a Pool directly from a pre-shuffled or externally
// computed dispatch vector, bypassing discovery. Used by callers (and
// tests) that already hold concrete credentials, e.g. a pipeline wired
// against a single mock server.
func NewStaticPool(vector []Credential) *Pool {
	return newPool(vector)
}

// DiscoverEnv enumerates the primary DEEPL_API_KEY plus DEEPL_API_KEY_1,
// DEEPL_API_KEY_2, ... until the first missing number, returning the list
// of raw keys in that order.
func DiscoverEnv(primary string) []string {
	var keys []string
	if primary != "" {
		keys = append(keys, primary)
	} else if v := os.Getenv("DEEPL_API_KEY"); v != "" {
		keys = append(keys, v)
	}
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("DEEPL_API_KEY_%d", i))
		if v == "" {
			break
		}
		keys = append(keys, v)
	}
	return keys
}

// Build classifies each key concurrently (probe GET /usage against the pro
// base URL, falling back to free), reads its residual capacity, drops any
// credential below MinResidual, and shuffles the proportionally-duplicated
// dispatch vector.
//
// If mock is true, classification is skipped and every key is dialed
// against deepl.BaseURLMock instead — matching the --test driver mode.
func Build(ctx context.Context, keys []string, mock bool) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("credpool: no API keys supplied")
	}

	results := make([]discovered, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i] = discoverOne(ctx, key, mock)
		}(i, key)
	}
	wg.Wait()

	var credentials []Credential
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.cred.ResidualChars < MinResidual {
			continue
		}
		credentials = append(credentials, r.cred)
	}
	if len(credentials) == 0 {
		return nil, fmt.Errorf("credpool: no credential has residual capacity above %d characters", MinResidual)
	}

	return newPool(weightedShuffle(credentials)), nil
}

type discovered struct {
	cred Credential
	err  error
}

func discoverOne(ctx context.Context, key string, mock bool) discovered {
	baseURL := deepl.BaseURLMock
	if !mock {
		baseURL = deepl.ClassifyBaseURL(ctx, key)
	}

	client := deepl.New(key, baseURL)
	usage, err := client.GetUsage(ctx)
	if err != nil {
		return discovered{err: err}
	}

	return discovered{cred: Credential{
		Key:           key,
		BaseURL:       baseURL,
		ResidualChars: usage.Residual(),
	}}
}

// weightedShuffle duplicates each credential round(100*residual/total)
// times, with a minimum of one slot per credential, then shuffles the resulting vector uniformly at random (Fisher–
// Yates). This is a cheap approximation of weighted round robin: no
// scheduler lock, no per-request bookkeeping, just index-by-id-mod-len.
func weightedShuffle(credentials []Credential) []Credential {
	// sort first so duplicate counts are assigned deterministically before
	// the shuffle randomizes order.
	sorted := make([]Credential, len(credentials))
	copy(sorted, credentials)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var total int64
	for _, c := range sorted {
		total += c.ResidualChars
	}

	var vector []Credential
	for _, c := range sorted {
		n := int(roundHalfAwayFromZero(100 * float64(c.ResidualChars) / float64(total)))
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			vector = append(vector, c)
		}
	}

	rand.Shuffle(len(vector), func(i, j int) {
		vector[i], vector[j] = vector[j], vector[i]
	})
	return vector
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}
