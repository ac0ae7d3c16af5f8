// Command translate-bench drives the translation benchmark: it reads a CSV
// of (id, text, target_lang) rows and reports per-row translation timing.
//
// Usage:
//
//	translate-bench -i tests/benchmark/data/input.csv -k $DEEPL_API_KEY
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/sg6/epub-translator/internal/bench"
	"github.com/sg6/epub-translator/internal/credpool"
	"github.com/sg6/epub-translator/internal/deepl"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		_ = err // no .env is not an error here either
	}

	var (
		inputPath = flag.StringP("input", "i", "tests/benchmark/data/input.csv", "CSV file of id,text,target_lang rows")
		apiKey    = flag.StringP("api-key", "k", "", "DeepL API key (else DEEPL_API_KEY)")
		mock      = flag.Bool("mock", false, "dial the mock DeepL server instead of the real API")
	)
	flag.Parse()

	keys := credpool.DiscoverEnv(*apiKey)
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "error: no API key supplied (use -k or DEEPL_API_KEY)")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	baseURL := deepl.ClassifyBaseURL(ctx, keys[0])
	if *mock {
		baseURL = deepl.BaseURLMock
	}
	client := deepl.New(keys[0], baseURL)

	f, err := os.Open(*inputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: opening input CSV:", err)
		return 1
	}
	defer f.Close()

	err = bench.Run(ctx, f, os.Stdout, client, func(lineNo int) {
		fmt.Fprintf(os.Stderr, "skipping malformed row at line %d: expected 3 columns\n", lineNo)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
