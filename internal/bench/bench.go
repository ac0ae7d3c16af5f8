// Package bench implements the CSV-driven translation benchmark: read
// rows of (id, text, target_lang), translate each one through a shared
// deepl.Client, and report per-row timing as CSV on stdout.
package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/sg6/epub-translator/internal/deepl"
)

// Row is one line of the input CSV.
type Row struct {
	ID         string
	Text       string
	TargetLang string
}

// Result is one line of the output report.
type Result struct {
	Row
	CharCount  int
	DurationMS int64
	MSPerChar  float64
	Translated string
}

// Run reads rows from r, translates each one through client, and writes one
// CSV line per row to w: id,char_count,duration_ms,target_lang,ms_per_char,
// text,translated. Rows that don't have exactly 3 columns are skipped, with
// a note written to skipped if non-nil.
func Run(ctx context.Context, r io.Reader, w io.Writer, client *deepl.Client, skipped func(lineNo int)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil { // header
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("bench: reading header: %w", err)
	}

	cw := csv.NewWriter(w)
	defer cw.Flush()

	lineNo := 1
	for {
		lineNo++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("bench: reading row %d: %w", lineNo, err)
		}
		if len(record) != 3 {
			if skipped != nil {
				skipped(lineNo)
			}
			continue
		}

		res, err := translateRow(ctx, client, Row{ID: record[0], Text: record[1], TargetLang: record[2]})
		if err != nil {
			return fmt.Errorf("bench: translating row %d: %w", lineNo, err)
		}

		if err := cw.Write([]string{
			res.ID,
			fmt.Sprintf("%d", res.CharCount),
			fmt.Sprintf("%d", res.DurationMS),
			res.TargetLang,
			fmt.Sprintf("%g", res.MSPerChar),
			res.Text,
			res.Translated,
		}); err != nil {
			return fmt.Errorf("bench: writing row %d: %w", lineNo, err)
		}
		cw.Flush()
	}
	return nil
}

func translateRow(ctx context.Context, client *deepl.Client, row Row) (Result, error) {
	charCount := utf8.RuneCountInString(row.Text)

	start := time.Now()
	translated, err := client.Translate(ctx, row.Text, row.TargetLang)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		return Result{}, err
	}

	var msPerChar float64
	if charCount > 0 {
		msPerChar = float64(durationMS) / float64(charCount)
	}

	return Result{
		Row:        row,
		CharCount:  charCount,
		DurationMS: durationMS,
		MSPerChar:  msPerChar,
		Translated: translated,
	}, nil
}
