package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/goregular"

	"go-civicreport/imagecodec"
	"go-civicreport/types"
)

var font *truetype.Font

// init sets up the font used for label tags.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	// PrimaryColor outlines the primary class, SecondaryColor everything else.
	PrimaryColor   = color.RGBA{R: 230, G: 30, B: 30, A: 255}
	SecondaryColor = color.RGBA{R: 20, G: 160, B: 60, A: 255}
	textColor      = color.White
)

// Annotator burns detection boxes and labels onto a copy of a picture.
type Annotator struct {
	primaryClass string
	quality      int
	log          *zap.SugaredLogger
}

func New(primaryClass string, log *zap.SugaredLogger) *Annotator {
	return &Annotator{
		primaryClass: primaryClass,
		quality:      imagecodec.DefaultJPEGQuality,
		log:          log.Named("annotate"),
	}
}

// Label renders the tag text with the confidence rounded to a whole
// percent, e.g. "pothole 88%" for 0.8765.
func Label(d types.Detection) string {
	return fmt.Sprintf("%s %d%%", d.ClassName, int(math.Round(d.Confidence*100)))
}

func (a *Annotator) colorFor(className string) color.Color {
	if className == a.primaryClass {
		return PrimaryColor
	}
	return SecondaryColor
}

// Burn returns the JPEG encoded annotated copy of data, or nil when the
// picture cannot be decoded or re-encoded. The caller then archives the
// original instead.
func (a *Annotator) Burn(data []byte, dets []types.Detection) []byte {
	img, err := imagecodec.Decode(data)
	if err != nil {
		a.log.Warnf("cannot annotate, image decode failed: %v", err)
		return nil
	}
	out, err := imagecodec.EncodeJPEG(a.Draw(img, dets), a.quality)
	if err != nil {
		a.log.Warnf("cannot annotate, image encode failed: %v", err)
		return nil
	}
	return out
}

// Draw paints every detection onto a copy of img. img itself is not modified.
func (a *Annotator) Draw(img image.Image, dets []types.Detection) image.Image {
	dc := gg.NewContextForImage(img)

	b := img.Bounds()
	short := math.Min(float64(b.Dx()), float64(b.Dy()))
	lineWidth := math.Max(2, short/200)
	fontSize := math.Max(10, short/40)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, d := range dets {
		c := a.colorFor(d.ClassName)
		r := image.Rect(int(d.XMin), int(d.YMin), int(d.XMax), int(d.YMax)).Sub(b.Min)
		drawRectangleEmpty(dc, r, c, lineWidth)
		drawTag(dc, Label(d), r.Min, c, fontSize)
	}
	return dc.Image()
}

// drawRectangleEmpty strokes the outline of r.
func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// drawTag fills a label box sitting on top of p. Near the top edge the tag
// moves inside the box.
func drawTag(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	w, h := dc.MeasureString(text)
	pad := size / 4
	tagW, tagH := w+2*pad, h+2*pad

	x, y := float64(p.X), float64(p.Y)-tagH
	if y < 0 {
		y = float64(p.Y)
	}
	if y < 0 {
		y = 0
	}

	dc.SetColor(c)
	dc.DrawRectangle(x, y, tagW, tagH)
	dc.Fill()

	dc.SetColor(textColor)
	dc.DrawStringAnchored(text, x+pad, y+pad+h/2, 0, 0.5)
}
