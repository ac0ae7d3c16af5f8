// Package ui holds the small presentation helpers the driver uses: colored
// preflight summaries, a yes/no confirm prompt, and a progress bar over the
// pipeline's completed/total counter. Kept deliberately thin — the teacher's
// own CLI output was a handful of log.Printf calls, and the corpus's own
// fuller CLIs (vjache-cie) reserve a dedicated internal/ui package for
// exactly this kind of formatting, which is the shape this package follows.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	bold = color.New(color.Bold)
	dim  = color.New(color.FgHiBlack)
	warn = color.New(color.FgYellow)
)

// PrintPreflight prints the totals the driver must show before confirming
// (spec.md §4.6): total translatable characters and total residual
// credential capacity.
func PrintPreflight(w io.Writer, totalChars int64, totalResidual int64, credentialCount int) {
	bold.Fprintln(w, "Preflight summary")
	fmt.Fprintf(w, "  translatable characters : %s\n", dim.Sprintf("%d", totalChars))
	fmt.Fprintf(w, "  credentials discovered  : %s\n", dim.Sprintf("%d", credentialCount))
	fmt.Fprintf(w, "  residual capacity       : %s\n", dim.Sprintf("%d", totalResidual))
	if totalResidual < totalChars {
		warn.Fprintln(w, "  warning: residual capacity is lower than the characters to translate")
	}
}

// Confirm asks a yes/no question on r/w and returns the answer. Defaults to
// "no" on EOF or an unrecognized answer.
func Confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N] ", question)
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// NewProgressBar returns a progressbar tracking completed-of-total nodes,
// matching the bar vjache-cie/cmd/cie/index.go drives during indexing.
func NewProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
}
