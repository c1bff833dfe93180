package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

const (
	maxStillWidth  = 1280
	maxStillHeight = 720

	stampPadding = 20.0
	stampBorder  = 5.0
)

// Stamper applies the job watermark to the still frame. Video units get
// their watermark inside the filter graph; the thumbnail is decorated here.
type Stamper struct {
	fontPath string
}

// NewStamper creates a Stamper. With an empty fontPath a built-in bitmap
// face is used.
func NewStamper(fontPath string) *Stamper {
	return &Stamper{fontPath: fontPath}
}

// Stamp decodes frame, fits it into 1280x720, draws the watermark and
// re-encodes as PNG. It returns the final dimensions.
func (s *Stamper) Stamp(frame []byte, wm model.Watermark, logo []byte) ([]byte, int, int, error) {
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode frame: %w", err)
	}

	img = imaging.Fit(img, maxStillWidth, maxStillHeight, imaging.Lanczos)

	switch wm.Kind {
	case model.WatermarkText:
		img, err = s.drawText(img, wm.Text, wm.Position)
	case model.WatermarkLogo:
		img, err = overlayLogo(img, logo, wm.Position)
	}
	if err != nil {
		return nil, 0, 0, err
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

// drawText renders white text over a half-transparent black box.
func (s *Stamper) drawText(img image.Image, text string, pos model.Position) (image.Image, error) {
	dc := gg.NewContextForImage(img)

	if s.fontPath != "" {
		fontSize := float64(dc.Height()) * 24 / 720
		if err := dc.LoadFontFace(s.fontPath, fontSize); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
	} else {
		dc.SetFontFace(basicfont.Face7x13)
	}

	tw, th := dc.MeasureString(text)
	x, y := anchor(pos, float64(dc.Width()), float64(dc.Height()), tw, th, stampPadding)

	dc.SetRGBA(0, 0, 0, 0.5)
	dc.DrawRectangle(x-stampBorder, y-stampBorder, tw+2*stampBorder, th+2*stampBorder)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x, y, 0, 1) // (x, y) is the top-left of the text

	return dc.Image(), nil
}

func overlayLogo(img image.Image, data []byte, pos model.Position) (image.Image, error) {
	logo, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode logo: %w", err)
	}

	b, lb := img.Bounds(), logo.Bounds()
	x, y := anchor(pos, float64(b.Dx()), float64(b.Dy()), float64(lb.Dx()), float64(lb.Dy()), stampPadding)

	return imaging.Overlay(img, logo, image.Pt(int(x), int(y)), 1.0), nil
}

// anchor returns the top-left corner of a w*h box placed at pos inside a
// W*H frame.
func anchor(pos model.Position, W, H, w, h, pad float64) (float64, float64) {
	switch pos {
	case model.PositionTopLeft:
		return pad, pad
	case model.PositionTopRight:
		return W - w - pad, pad
	case model.PositionBottomLeft:
		return pad, H - h - pad
	case model.PositionCenter:
		return (W - w) / 2, (H - h) / 2
	default:
		return W - w - pad, H - h - pad
	}
}
