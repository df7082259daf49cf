// Package extractor turns PDF bytes into page-headed markdown.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
)

// Result is the outcome of one extraction.
type Result struct {
	Pages    int
	Markdown string
	Info     Info
}

// Info is the document information dictionary, when present.
type Info struct {
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Subject string `json:"subject,omitempty"`
	Creator string `json:"creator,omitempty"`
}

// Extractor converts document bytes to markdown.
type Extractor interface {
	Extract(ctx context.Context, content []byte) (*Result, error)
}

// PDF extracts plain text page by page.
type PDF struct {
	logger *slog.Logger
}

func NewPDF() *PDF {
	return &PDF{logger: slog.Default().With("component", "pdf-extractor")}
}

// Extract parses content as a PDF. Any parse failure, including a panic
// inside the parser, is reported as ErrExtractionFailure. ctx is checked
// between pages.
func (e *PDF) Extract(ctx context.Context, content []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: malformed pdf: %v", apperrors.ErrExtractionFailure, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening pdf: %v", apperrors.ErrExtractionFailure, err)
	}

	n := reader.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", apperrors.ErrExtractionFailure, i, err)
		}
		pages = append(pages, text)
	}

	res = &Result{
		Pages:    n,
		Markdown: Markdown(pages),
		Info:     readInfo(reader),
	}
	e.logger.Debug("pdf extracted", "pages", n, "markdown_bytes", len(res.Markdown))
	return res, nil
}

// Markdown joins page texts under "## Page N" headings, numbering from 1.
// Pages with no text after trimming are omitted but keep their number.
func Markdown(pages []string) string {
	var b strings.Builder
	for i, text := range pages {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n## Page %d\n\n%s", i+1, text)
	}
	return b.String()
}

func readInfo(r *pdf.Reader) Info {
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return Info{}
	}
	return Info{
		Title:   info.Key("Title").Text(),
		Author:  info.Key("Author").Text(),
		Subject: info.Key("Subject").Text(),
		Creator: info.Key("Creator").Text(),
	}
}
