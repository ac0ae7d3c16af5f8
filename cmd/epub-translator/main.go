// Command epub-translator translates every XHTML file inside an EPUB into a
// target language via the DeepL API and writes a new, valid EPUB.
//
// Usage:
//
//	epub-translator translate <input.epub> <output.epub> -t ES
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/sg6/epub-translator/internal/archive"
	"github.com/sg6/epub-translator/internal/config"
	"github.com/sg6/epub-translator/internal/credpool"
	"github.com/sg6/epub-translator/internal/deepl"
	"github.com/sg6/epub-translator/internal/mockserver"
	"github.com/sg6/epub-translator/internal/pipeline"
	"github.com/sg6/epub-translator/internal/ui"
	"github.com/sg6/epub-translator/internal/xhtml"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	flag.Usage = usage

	var (
		targetLang  = flag.StringP("target-lang", "t", "", "target language code (required)")
		sourceLang  = flag.StringP("source-lang", "s", "", "source language code (currently ignored by core)")
		parallel    = flag.IntP("parallel", "p", 1, "max concurrent translation requests")
		apiKey      = flag.StringP("api-key", "k", "", "DeepL API key (else DEEPL_API_KEY)")
		verbose     = flag.BoolP("verbose", "v", false, "profiling/log output on stderr")
		test        = flag.Bool("test", false, "use the embedded mock DeepL server")
		yes         = flag.Bool("yes", false, "skip the confirm prompt")
		metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
		configPath  = flag.String("config", ".epub-translator.yaml", "path to optional on-disk defaults")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: loading config:", err)
		return 1
	}
	if *targetLang == "" {
		*targetLang = cfg.TargetLang
	}
	if !flag.CommandLine.Changed("parallel") && cfg.Parallel > 0 {
		*parallel = cfg.Parallel
	}
	if *metricsAddr == "" {
		*metricsAddr = cfg.MetricsAddr
	}
	if !*verbose && cfg.Verbose {
		*verbose = true
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) != 3 || args[0] != "translate" {
		flag.Usage()
		return 1
	}
	inputPath, outputPath := args[1], args[2]

	if *targetLang == "" {
		fmt.Fprintln(os.Stderr, "error: -t/--target-lang is required")
		return 1
	}
	if err := validateEpubPath(inputPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, abandoning in-flight work")
		cancel()
	}()

	var mockShutdown chan struct{}
	if *test {
		mockShutdown = make(chan struct{})
		go func() {
			if err := mockserver.ListenAndServe(ctx, mockserver.DefaultUsage, mockShutdown); err != nil {
				logger.Error("mock server exited", "err", err)
			}
		}()
		defer close(mockShutdown)
		if err := waitForMockServer(ctx, 2*time.Second); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	var registry *prometheus.Registry
	var metrics *pipeline.Metrics
	if *metricsAddr != "" {
		registry = prometheus.NewRegistry()
		metrics = pipeline.NewMetrics(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", "err", err)
			}
		}()
		defer srv.Close()
	}

	if err := translate(ctx, translateArgs{
		inputPath:   inputPath,
		outputPath:  outputPath,
		targetLang:  *targetLang,
		sourceLang:  *sourceLang,
		parallel:    *parallel,
		apiKey:      *apiKey,
		mock:        *test,
		skipConfirm: *yes,
		logger:      logger,
		metrics:     metrics,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

type translateArgs struct {
	inputPath, outputPath string
	targetLang, sourceLang string
	parallel              int
	apiKey                string
	mock                  bool
	skipConfirm           bool
	logger                *slog.Logger
	metrics               *pipeline.Metrics
}

// translate implements the full "translate <input.epub> <output.epub>"
// command: preflight validation, credential discovery, dispatch, and
// re-zipping. Partial translations are never written because serialization
// is the last step (spec.md §7).
func translate(ctx context.Context, a translateArgs) error {
	_ = a.sourceLang // currently ignored by core, per spec.md §6

	keys := credpool.DiscoverEnv(a.apiKey)
	if len(keys) == 0 {
		return fmt.Errorf("no API key supplied (use -k or DEEPL_API_KEY)")
	}

	pool, err := credpool.Build(ctx, keys, a.mock)
	if err != nil {
		return fmt.Errorf("building credential pool: %w", err)
	}

	if err := validateTargetLang(ctx, pool, a.targetLang); err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "epub-translator-*")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := archive.Unzip(a.inputPath, workDir); err != nil {
		return fmt.Errorf("unzipping %s: %w", a.inputPath, err)
	}

	relPaths, err := archive.XHTMLFiles(workDir)
	if err != nil {
		return fmt.Errorf("enumerating XHTML files: %w", err)
	}

	docs := make([]pipeline.Document, 0, len(relPaths))
	for _, rel := range relPaths {
		abs := filepath.Join(workDir, rel)
		f, err := os.Open(abs)
		if err != nil {
			return fmt.Errorf("opening %s: %w", rel, err)
		}
		doc, err := xhtml.Parse(abs, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("parsing %s: %w", rel, err)
		}
		docs = append(docs, pipeline.Document{Doc: doc, Path: abs})
	}

	totalChars := sumTranslatableChars(docs)
	var totalResidual int64
	for _, c := range pool.Credentials() {
		totalResidual += c.ResidualChars
	}
	ui.PrintPreflight(os.Stderr, totalChars, totalResidual, len(pool.Credentials()))

	if !a.skipConfirm && isInteractive() {
		if !ui.Confirm(os.Stdin, os.Stderr, "Proceed with translation?") {
			return fmt.Errorf("aborted by user")
		}
	}

	p := &pipeline.Pipeline{
		Pool:               pool,
		TargetLang:         a.targetLang,
		ConcurrentRequests: a.parallel,
		Logger:             a.logger,
		Metrics:            a.metrics,
	}

	var bar *progressTracker
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		bar = newProgressTracker()
		p.OnProgress = bar.update
	}

	start := time.Now()
	total, neverTranslated, err := p.Run(ctx, docs)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if bar != nil {
		bar.finish(total)
	}
	duration := time.Since(start)

	for _, d := range docs {
		out, err := os.OpenFile(d.Path, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("opening %s for write: %w", d.Path, err)
		}
		err = d.Doc.Serialize(out)
		out.Close()
		if err != nil {
			return fmt.Errorf("serializing %s: %w", d.Path, err)
		}
	}

	if err := archive.Zip(workDir, a.outputPath); err != nil {
		return fmt.Errorf("zipping %s: %w", a.outputPath, err)
	}

	a.logger.Info("translation complete",
		"total_nodes", total,
		"never_translated", neverTranslated,
		"duration", duration,
		"output", a.outputPath,
	)
	return nil
}

// validateEpubPath rejects an input that does not exist or does not carry
// the .epub extension, before any work directory or HTTP call is made
// (original_source/src/main.rs performs the same two checks up front).
func validateEpubPath(path string) error {
	if filepath.Ext(path) != ".epub" {
		return fmt.Errorf("input file %q must have a .epub extension", path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input file %q does not exist", path)
	}
	return nil
}

// waitForMockServer polls the mock server's /usage endpoint until it
// answers or timeout elapses, rather than assuming a fixed sleep is long
// enough for the listener to bind (original_source/src/main.rs calls
// get_usage against the freshly started server before proceeding for the
// same reason).
func waitForMockServer(ctx context.Context, timeout time.Duration) error {
	probe := deepl.New("mock_auth_key", deepl.BaseURLMock)
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, err := probe.GetUsage(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("mock server did not become ready within %s: %w", timeout, lastErr)
}

// validateTargetLang refuses to run if targetLang is not in the service's
// language list (spec.md §4.6).
func validateTargetLang(ctx context.Context, pool *credpool.Pool, targetLang string) error {
	if pool.Len() == 0 {
		return fmt.Errorf("credential pool is empty")
	}
	client := pool.ClientAt(0)
	langs, err := client.GetLanguages(ctx, deepl.GetLanguagesOptions{})
	if err != nil {
		return fmt.Errorf("fetching supported languages: %w", err)
	}
	for _, l := range langs {
		if l.Language == targetLang {
			return nil
		}
	}
	return fmt.Errorf("%q is not a supported target language", targetLang)
}

func sumTranslatableChars(docs []pipeline.Document) int64 {
	var total int64
	for _, d := range docs {
		for _, n := range xhtml.TextNodes(d.Doc.HTML()) {
			total += int64(len(n.Text()))
		}
	}
	return total
}

func isInteractive() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// progressTracker adapts pipeline.Pipeline.OnProgress to a schollz
// progressbar, rendered only once per distinct completed count.
type progressTracker struct {
	bar *progressBarWriter
}

func newProgressTracker() *progressTracker {
	return &progressTracker{}
}

func (t *progressTracker) update(completed, total int) {
	if t.bar == nil {
		t.bar = newProgressBarWriter(total)
	}
	t.bar.set(completed)
}

func (t *progressTracker) finish(total int) {
	if t.bar != nil {
		t.bar.set(total)
		t.bar.close()
	}
}

// progressBarWriter wraps a schollz/progressbar/v3 bar so progressTracker
// can drive it from arbitrary completed counts rather than Add(1) deltas.
type progressBarWriter struct {
	bar  *progressbar.ProgressBar
	last int
}

func newProgressBarWriter(total int) *progressBarWriter {
	return &progressBarWriter{bar: ui.NewProgressBar(total, "translating")}
}

func (w *progressBarWriter) set(completed int) {
	if delta := completed - w.last; delta > 0 {
		w.bar.Add(delta)
		w.last = completed
	}
}

func (w *progressBarWriter) close() {
	w.bar.Finish()
}

func usage() {
	fmt.Fprint(os.Stderr, `epub-translator — translate an EPUB's text into another language via DeepL

Usage:
  epub-translator translate <input.epub> <output.epub> -t <LANG> [options]

Options:
  -t, --target-lang <CODE>   required; validated against DeepL's /languages
  -s, --source-lang <CODE>   optional, currently ignored by core
  -p, --parallel <N>         max concurrent translation requests (default 1)
  -k, --api-key <KEY>        else DEEPL_API_KEY / DEEPL_API_KEY_1, _2, ...
  -v, --verbose              profiling/log output on stderr
      --test                 use the embedded mock DeepL server
      --yes                  skip the confirm prompt
      --metrics-addr <ADDR>  serve Prometheus metrics on ADDR
      --config <PATH>        on-disk defaults (default .epub-translator.yaml)

Environment:
  DEEPL_API_KEY, DEEPL_API_KEY_1, DEEPL_API_KEY_2, ...  enumerated until gap

Examples:
  epub-translator translate book.epub book.es.epub -t ES
  epub-translator translate book.epub book.es.epub -t ES -p 4 --metrics-addr :9090
  epub-translator translate book.epub book.es.epub -t ES --test --yes
`)
}
