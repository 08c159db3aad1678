// Package annotate draws set-of-marks overlays on screenshots: a red border
// around every interactive element with its numeric id in the corner, so a
// vision-capable oracle can ground "click 12" visually. Annotation failures
// degrade to the raw screenshot, never to a dropped frame.
package annotate

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Box is one element's position on the screenshot, in pixels.
type Box struct {
	ID int `json:"id"`
	X  int `json:"x"`
	Y  int `json:"y"`
	W  int `json:"w"`
	H  int `json:"h"`
}

const (
	borderWidth  = 2
	jpegQuality  = 80
	labelPadding = 2
)

var (
	markRed   = color.RGBA{R: 220, G: 20, B: 20, A: 255}
	labelText = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Mark decodes a base64 JPEG, draws the boxes and returns the annotated image
// re-encoded as base64 JPEG. Boxes outside the image are clipped; an empty box
// list returns the input untouched.
func Mark(b64 string, boxes []Box) (string, error) {
	if len(boxes) == 0 {
		return b64, nil
	}
	if i := strings.Index(b64, "base64,"); i >= 0 {
		b64 = b64[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, box := range boxes {
		r := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Intersect(canvas.Bounds())
		if r.Empty() {
			continue
		}
		drawBorder(canvas, r)
		drawLabel(canvas, r, strconv.Itoa(box.ID))
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode annotated image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

func drawBorder(img *image.RGBA, r image.Rectangle) {
	for i := 0; i < borderWidth; i++ {
		edge := r.Inset(i)
		if edge.Empty() {
			return
		}
		for x := edge.Min.X; x < edge.Max.X; x++ {
			img.Set(x, edge.Min.Y, markRed)
			img.Set(x, edge.Max.Y-1, markRed)
		}
		for y := edge.Min.Y; y < edge.Max.Y; y++ {
			img.Set(edge.Min.X, y, markRed)
			img.Set(edge.Max.X-1, y, markRed)
		}
	}
}

// drawLabel paints the id on a filled tab in the box's top-left corner.
func drawLabel(img *image.RGBA, r image.Rectangle, label string) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, label).Ceil() + 2*labelPadding
	h := face.Metrics().Height.Ceil() + 2*labelPadding

	tab := image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Min.Y+h).Intersect(img.Bounds())
	if tab.Empty() {
		return
	}
	draw.Draw(img, tab, &image.Uniform{C: markRed}, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: labelText},
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(r.Min.X + labelPadding),
			Y: fixed.I(r.Min.Y + labelPadding + face.Metrics().Ascent.Ceil()),
		},
	}
	d.DrawString(label)
}
