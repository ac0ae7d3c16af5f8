// Package pipeline is the CORE of the translator: it flattens every
// document's text nodes into one vector, dispatches translation jobs across
// a credential pool under a concurrency ceiling, reconciles results back
// into the DOM, and retries failures up to a fixed bound before giving up.
//
// The dispatcher and the writer are split deliberately (see Run): the
// writer is the only goroutine that ever mutates a text node, and it
// terminates on completed == total, never on channel close, because the
// dispatcher may still be holding its sender open to service retries.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/sg6/epub-translator/internal/credpool"
	"github.com/sg6/epub-translator/internal/xhtml"
)

// MaxAttempts is the retry cap per node id (spec §3: RetryCounter).
const MaxAttempts = 4

// WriterQueue is the capacity of the requests/results channels.
const WriterQueue = 15_000

// Job is a single translation request unit keyed by the master node id.
type Job struct {
	ID      int
	Text    string
	Attempt uint32
}

// outcomeKind distinguishes a successful translation from a failed one.
type outcomeKind int

const (
	outcomeTranslated outcomeKind = iota
	outcomeFailed
)

// Outcome is the result of attempting a Job.
type Outcome struct {
	ID     int
	kind   outcomeKind
	result string
}

// Pipeline owns the master text-node vector and orchestrates dispatch.
type Pipeline struct {
	Pool               *credpool.Pool
	TargetLang         string
	ConcurrentRequests int
	Logger             *slog.Logger
	Metrics            *Metrics
	// OnProgress, if set, is called once per id as it completes (success,
	// retry exhaustion, or a failed retry send).
	OnProgress func(completed, total int)
}

// Document pairs a parsed xhtml.Document with the path it should be
// serialized back to.
type Document struct {
	Doc  *xhtml.Document
	Path string
}

// Run executes the full pipeline: flatten text nodes across docs, dispatch
// jobs, reconcile results, and return the total node count and number of
// nodes that exhausted retries without ever succeeding.
func (p *Pipeline) Run(ctx context.Context, docs []Document) (total, neverTranslated int, err error) {
	nodes, texts := flatten(docs)
	total = len(nodes)
	if total == 0 {
		return 0, 0, nil
	}

	requests := make(chan Job, WriterQueue)
	results := make(chan Outcome, WriterQueue)

	var dispatchWG sync.WaitGroup
	sem := make(chan struct{}, p.ConcurrentRequests)

	dispatchWG.Add(1)
	go p.dispatch(ctx, requests, results, sem, &dispatchWG)

	// Initial fan-out: every node with non-empty text gets exactly one Job.
	// Empty/whitespace-only nodes (edge case, spec §4.5) are elided as a
	// no-op outcome rather than dispatched.
	go func() {
		for i, text := range texts {
			if strings.TrimSpace(text) == "" {
				results <- Outcome{ID: i, kind: outcomeTranslated, result: text}
				continue
			}
			if p.Metrics != nil {
				p.Metrics.incDispatched()
			}
			requests <- Job{ID: i, Text: text}
		}
	}()

	neverTranslated = p.write(nodes, texts, total, requests, results)

	close(requests)
	dispatchWG.Wait()

	return total, neverTranslated, nil
}

// flatten collects every non-style text node across docs into one vector,
// snapshotting each node's current text as the immutable payload that gets
// re-sent on retry.
func flatten(docs []Document) ([]xhtml.TextNode, []string) {
	var nodes []xhtml.TextNode
	for _, d := range docs {
		nodes = append(nodes, xhtml.TextNodes(d.Doc.HTML())...)
	}
	texts := make([]string, len(nodes))
	for i, n := range nodes {
		texts[i] = n.Text()
	}
	return nodes, texts
}

// dispatch consumes requests and spawns one worker goroutine per Job. It
// exits once requests is closed and every spawned worker has finished.
func (p *Pipeline) dispatch(ctx context.Context, requests <-chan Job, results chan<- Outcome, sem chan struct{}, done *sync.WaitGroup) {
	defer done.Done()

	var workers sync.WaitGroup
	for job := range requests {
		workers.Add(1)
		go func(job Job) {
			defer workers.Done()
			p.runWorker(ctx, job, sem, results)
		}(job)
	}
	workers.Wait()
}

func (p *Pipeline) runWorker(ctx context.Context, job Job, sem chan struct{}, results chan<- Outcome) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		results <- Outcome{ID: job.ID, kind: outcomeFailed}
		return
	}
	defer func() { <-sem }()

	if p.Metrics != nil {
		p.Metrics.incInFlight()
		defer p.Metrics.decInFlight()
	}

	client := p.Pool.ClientAt(job.ID)

	text, err := client.Translate(ctx, job.Text, p.TargetLang)
	if err != nil {
		if p.logger() != nil {
			p.logger().Debug("pipeline.job.failed", "id", job.ID, "attempt", job.Attempt, "err", err)
		}
		results <- Outcome{ID: job.ID, kind: outcomeFailed}
		return
	}

	results <- Outcome{ID: job.ID, kind: outcomeTranslated, result: text}
}

// write is the writer: it drains results and mutates the DOM, retrying
// failed jobs (up to MaxAttempts) by resending a fresh Job on requests. It
// exits the instant completed == total, without relying on results ever
// closing — the dispatcher may still hold a live sender servicing retries.
func (p *Pipeline) write(nodes []xhtml.TextNode, texts []string, total int, requests chan<- Job, results <-chan Outcome) (neverTranslated int) {
	written := make([]bool, total)
	retries := make([]uint32, total) // fixed-length: fixes the source's len-2 retry-vector bug (spec §9)
	completed := 0

	for completed < total {
		outcome := <-results
		id := outcome.ID

		if written[id] {
			continue // duplicate Outcome for an already-written id: ignore
		}

		switch outcome.kind {
		case outcomeTranslated:
			if len(strings.TrimSpace(outcome.result)) > 0 || strings.TrimSpace(texts[id]) == "" {
				nodes[id].SetText(outcome.result)
			}
			written[id] = true
			completed++
			p.markDone(completed, total)
			if p.Metrics != nil {
				p.Metrics.incCompleted()
			}

		case outcomeFailed:
			if retries[id] < MaxAttempts {
				retries[id]++
				if p.Metrics != nil {
					p.Metrics.incRetried()
				}
				if !p.resend(requests, Job{ID: id, Text: texts[id], Attempt: retries[id]}) {
					// resend itself failed (channel closed etc.): count
					// the node as completed, terminally failed.
					written[id] = true
					completed++
					neverTranslated++
					p.markDone(completed, total)
					if p.Metrics != nil {
						p.Metrics.incFailedTerminal()
					}
				}
				continue
			}
			// retries exhausted: leave the node's text unchanged.
			written[id] = true
			completed++
			neverTranslated++
			p.markDone(completed, total)
			if p.Metrics != nil {
				p.Metrics.incFailedTerminal()
			}
		}
	}

	return neverTranslated
}

// resend attempts a non-blocking-safe send of a retry Job. It reports
// false only if the send cannot be completed (e.g. requests is closed),
// matching the "channel send failure during initial fan-out" policy from
// spec §7, reused here for retries.
func (p *Pipeline) resend(requests chan<- Job, job Job) bool {
	defer func() {
		recover() // sending on a closed channel panics; treat it as failure.
	}()
	requests <- job
	return true
}

func (p *Pipeline) markDone(completed, total int) {
	if p.OnProgress != nil {
		p.OnProgress(completed, total)
	}
}

func (p *Pipeline) logger() *slog.Logger {
	return p.Logger
}
