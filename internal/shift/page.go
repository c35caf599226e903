package shift

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Default label size: 4x6 inches.
const (
	DefaultLabelWidth  = 4 * 72.0
	DefaultLabelHeight = 6 * 72.0
)

func labelSize(opts Options) (float64, float64) {
	w, h := opts.LabelWidth, opts.LabelHeight
	if w <= 0 {
		w = DefaultLabelWidth
	}
	if h <= 0 {
		h = DefaultLabelHeight
	}
	return w, h
}

// visualOffset converts a horizontal offset in the displayed page into an
// offset in unrotated user space.
func visualOffset(rotate int, d float64) (dx, dy float64) {
	switch ((rotate % 360) + 360) % 360 {
	case 90:
		return 0, d
	case 180:
		return -d, 0
	case 270:
		return 0, -d
	}
	return d, 0
}

func translate(r *types.Rectangle, dx, dy float64) *types.Rectangle {
	return types.NewRectangle(r.LL.X+dx, r.LL.Y+dy, r.UR.X+dx, r.UR.Y+dy)
}

// shiftPage moves the page window by pts in the displayed page's horizontal
// direction. Moving the window right makes content appear further left, so a
// positive margin moves content left and a negative one moves it right.
func shiftPage(ctx *model.Context, pageNr int, pts float64) error {
	if pts == 0 {
		return nil
	}
	d, _, inh, err := ctx.PageDict(pageNr, false)
	if err != nil {
		return err
	}
	if d == nil || inh == nil || inh.MediaBox == nil {
		return ErrMissingMediaBox
	}

	dx, dy := visualOffset(inh.Rotate, pts)
	d["MediaBox"] = translate(inh.MediaBox, dx, dy).Array()
	if inh.CropBox != nil {
		d["CropBox"] = translate(inh.CropBox, dx, dy).Array()
	}
	return nil
}

// labelRegion returns the source region shown on a label: from the
// horizontal centre minus the margin to the right edge, full height.
func labelRegion(box *types.Rectangle, pts float64) (*types.Rectangle, error) {
	startX := box.LL.X + box.Width()/2 - pts
	startX = math.Max(startX, box.LL.X)
	if startX >= box.UR.X {
		return nil, ErrEmptyCropRegion
	}
	return types.NewRectangle(startX, box.LL.Y, box.UR.X, box.UR.Y), nil
}

// labelTransform fits region into a w x h page, keeping aspect ratio and
// centring it. It returns the scale and the translation to apply after it.
func labelTransform(region *types.Rectangle, w, h float64) (scale, tx, ty float64) {
	scale = math.Min(w/region.Width(), h/region.Height())
	ex := (w - region.Width()*scale) / 2
	ey := (h - region.Height()*scale) / 2
	return scale, ex - scale*region.LL.X, ey - scale*region.LL.Y
}

// labelPage replaces the page geometry with a w x h label and wraps the
// existing content in a clip and transform showing labelRegion. Rotation is
// reset so that every label comes out portrait. Annotations are dropped
// since their rectangles refer to the source page.
func labelPage(ctx *model.Context, pageNr int, pts float64, w, h float64) error {
	d, _, inh, err := ctx.PageDict(pageNr, false)
	if err != nil {
		return err
	}
	if d == nil || inh == nil || inh.MediaBox == nil {
		return ErrMissingMediaBox
	}
	box := inh.CropBox
	if box == nil {
		box = inh.MediaBox
	}

	region, err := labelRegion(box, pts)
	if err != nil {
		return err
	}
	scale, tx, ty := labelTransform(region, w, h)

	var prefix bytes.Buffer
	fmt.Fprintf(&prefix, "q %.4f %.4f %.4f %.4f re W n %.6f 0 0 %.6f %.4f %.4f cm\n",
		tx+scale*region.LL.X, ty+scale*region.LL.Y, region.Width()*scale, region.Height()*scale,
		scale, scale, tx, ty)

	prefixRef, err := newContentStream(ctx, prefix.Bytes())
	if err != nil {
		return err
	}
	suffixRef, err := newContentStream(ctx, []byte("\nQ\n"))
	if err != nil {
		return err
	}

	contents := types.Array{*prefixRef}
	if obj, found := d.Find("Contents"); found && obj != nil {
		existing, err := ctx.Dereference(obj)
		if err != nil {
			return err
		}
		if arr, ok := existing.(types.Array); ok {
			contents = append(contents, arr...)
		} else {
			contents = append(contents, obj)
		}
	}
	contents = append(contents, *suffixRef)
	d["Contents"] = contents

	// CropBox is inheritable, so it is overwritten rather than removed.
	label := types.RectForWidthAndHeight(0, 0, w, h)
	d["MediaBox"] = label.Array()
	d["CropBox"] = label.Array()
	for _, name := range []string{"TrimBox", "BleedBox", "ArtBox", "Annots"} {
		d.Delete(name)
	}
	d["Rotate"] = types.Integer(0)
	return nil
}

func newContentStream(ctx *model.Context, buf []byte) (*types.IndirectRef, error) {
	sd, err := ctx.NewStreamDictForBuf(buf)
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return ctx.IndRefForNewObject(*sd)
}
