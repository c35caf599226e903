// Package pdftest builds small, valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Page describes one generated page.
type Page struct {
	Width, Height float64
	Rotate        int

	// Link adds a link annotation in the lower left corner.
	Link bool
}

// Letter is a US letter portrait page.
var Letter = Page{Width: 612, Height: 792}

// Tree describes the page tree root. Boxes set here are inherited by every
// page; pages with zero Width and Height then carry no MediaBox of their own.
type Tree struct {
	MediaBox []float64
	CropBox  []float64
	Pages    []Page
}

// Build returns a PDF with one page per entry. Each page paints a filled
// rectangle so that it has a content stream.
func Build(pages ...Page) []byte {
	return BuildTree(Tree{Pages: pages})
}

// BuildTree is Build with attributes on the /Pages node.
func BuildTree(tree Tree) []byte {
	// Object numbers: 1 catalog, 2 page tree, then page, content and
	// optional annotation for each page in order.
	type nums struct{ page, content, annot int }
	layout := make([]nums, len(tree.Pages))
	next := 3
	for i, p := range tree.Pages {
		layout[i] = nums{page: next, content: next + 1}
		next += 2
		if p.Link {
			layout[i].annot = next
			next++
		}
	}

	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	var kids strings.Builder
	for _, n := range layout {
		fmt.Fprintf(&kids, "%d 0 R ", n.page)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d%s%s >>",
		kids.String(), len(tree.Pages), box("MediaBox", tree.MediaBox), box("CropBox", tree.CropBox)))

	for i, p := range tree.Pages {
		n := layout[i]
		var attrs strings.Builder
		if p.Width != 0 || p.Height != 0 {
			attrs.WriteString(box("MediaBox", []float64{0, 0, p.Width, p.Height}))
		}
		if p.Rotate != 0 {
			fmt.Fprintf(&attrs, " /Rotate %d", p.Rotate)
		}
		if p.Link {
			fmt.Fprintf(&attrs, " /Annots [%d 0 R]", n.annot)
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R%s /Resources << >> /Contents %d 0 R >>", attrs.String(), n.content))

		content := fmt.Sprintf("0 0 1 rg %d 72 144 144 re f", 72+i)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

		if p.Link {
			obj(fmt.Sprintf("<< /Type /Annot /Subtype /Link /Rect [10 10 110 40] /Border [0 0 0] /P %d 0 R >>", n.page))
		}
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func box(name string, r []float64) string {
	if len(r) != 4 {
		return ""
	}
	return fmt.Sprintf(" /%s [%g %g %g %g]", name, r[0], r[1], r[2], r[3])
}

// Pages returns a document of n letter pages.
func Pages(n int) []byte {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Letter
	}
	return Build(pages...)
}
