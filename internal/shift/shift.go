// Package shift moves the visible region of every page of a PDF by a margin
// given in millimetres. Page geometry is edited through pdfcpu's object model;
// content streams are never parsed.
package shift

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PointsPerMM converts millimetres to PDF user space units (1/72 inch).
const PointsPerMM = 72.0 / 25.4

// MaxMarginMM bounds the accepted margin in both directions.
const MaxMarginMM = 100.0

// Mode selects how a page is transformed.
type Mode string

const (
	// ModeShift translates the page window horizontally and keeps page size.
	ModeShift Mode = "shift"
	// ModeLabel crops the right-hand half of each page, offset by the margin,
	// and fits it onto a fixed label-sized page.
	ModeLabel Mode = "label"
)

var (
	ErrNotPDF          = errors.New("input is not a PDF")
	ErrInvalidDocument = errors.New("invalid PDF document")
	ErrEmptyDocument   = errors.New("PDF has no pages")
	ErrUnknownMode     = errors.New("unknown shift mode")
	ErrEmptyCropRegion = errors.New("margin leaves no visible region")
	ErrMissingMediaBox = errors.New("page has no media box")
	ErrInvalidMargin   = errors.New("margin must be a finite number")
)

// Options controls a single conversion.
type Options struct {
	MarginMM float64
	Mode     Mode

	// LabelWidth and LabelHeight are the target page size in points for
	// ModeLabel. Zero means 4x6 inches.
	LabelWidth  float64
	LabelHeight float64
}

// Result describes a finished conversion.
type Result struct {
	PageCount    int
	MarginMM     float64
	MarginPoints float64
	Mode         Mode
}

func init() {
	// Keep pdfcpu from creating a configuration directory in $HOME.
	api.DisableConfigDir()
}

// ClampMargin limits mm to [-MaxMarginMM, MaxMarginMM].
func ClampMargin(mm float64) float64 {
	return math.Max(-MaxMarginMM, math.Min(MaxMarginMM, mm))
}

// MMToPoints converts millimetres to points.
func MMToPoints(mm float64) float64 {
	return mm * PointsPerMM
}

// ParseMode maps a form value to a Mode; the empty string selects def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(s) {
	case "":
		return def, nil
	case ModeShift, ModeLabel:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// HasPDFHeader reports whether the %PDF- marker occurs within the first
// 1024 bytes, which is where readers are required to look for it.
func HasPDFHeader(head []byte) bool {
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// Process reads a PDF from rs, transforms every page according to opts and
// writes the result to w.
func Process(rs io.ReadSeeker, w io.Writer, opts Options) (Result, error) {
	mode, err := ParseMode(string(opts.Mode), ModeShift)
	if err != nil {
		return Result{}, err
	}
	if math.IsNaN(opts.MarginMM) || math.IsInf(opts.MarginMM, 0) {
		return Result{}, ErrInvalidMargin
	}
	mm := ClampMargin(opts.MarginMM)
	res := Result{MarginMM: mm, MarginPoints: MMToPoints(mm), Mode: mode}

	head := make([]byte, 1024)
	n, err := io.ReadFull(rs, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Result{}, fmt.Errorf("read PDF header: %w", err)
	}
	if !HasPDFHeader(head[:n]) {
		return Result{}, ErrNotPDF
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return Result{}, err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if ctx.PageCount == 0 {
		return Result{}, ErrEmptyDocument
	}
	res.PageCount = ctx.PageCount

	labelW, labelH := labelSize(opts)
	for p := 1; p <= ctx.PageCount; p++ {
		switch mode {
		case ModeShift:
			err = shiftPage(ctx, p, res.MarginPoints)
		case ModeLabel:
			err = labelPage(ctx, p, res.MarginPoints, labelW, labelH)
		}
		if err != nil {
			return Result{}, fmt.Errorf("page %d: %w", p, err)
		}
	}

	if err := api.WriteContext(ctx, w); err != nil {
		return Result{}, fmt.Errorf("write PDF: %w", err)
	}
	return res, nil
}

// ProcessBytes is Process for in-memory documents.
func ProcessBytes(in []byte, opts Options) ([]byte, Result, error) {
	var out bytes.Buffer
	res, err := Process(bytes.NewReader(in), &out, opts)
	if err != nil {
		return nil, Result{}, err
	}
	return out.Bytes(), res, nil
}

// CountPages returns the number of pages of the PDF in rs.
func CountPages(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(rs, conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return n, nil
}
