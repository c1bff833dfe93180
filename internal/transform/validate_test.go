package transform

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

type memBlobs map[string][]byte

func (m memBlobs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(8, 8, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func rawSpec(formats, resolutions []string) model.RawSpec {
	var raw model.RawSpec
	raw.OutputFormats = formats
	raw.OutputResolutions = resolutions
	return raw
}

func requireValidationError(t *testing.T, err error, field string) {
	t.Helper()
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, field, verr.Field)
}

func TestNormalize_Valid(t *testing.T) {
	raw := rawSpec([]string{" MP4", "webm"}, []string{"720p", "4K"})
	raw.Watermark.Kind = "text"
	raw.Watermark.Text = "  Test "
	raw.Watermark.Position = "Top-Right"
	raw.ApplyProtectiveTransform = true

	spec, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, []model.Format{model.FormatMP4, model.FormatWEBM}, spec.OutputFormats)
	assert.Equal(t, []model.Resolution{model.Resolution720p, model.Resolution4K}, spec.OutputResolutions)
	assert.Equal(t, model.Watermark{Kind: model.WatermarkText, Text: "Test", Position: model.PositionTopRight}, spec.Watermark)
	assert.True(t, spec.ApplyProtectiveTransform)
	assert.Equal(t, 4, spec.MatrixSize())
}

func TestNormalize_DefaultsToNoWatermark(t *testing.T) {
	spec, err := Normalize(rawSpec([]string{"mp4"}, []string{"1080p"}))
	require.NoError(t, err)
	assert.Equal(t, model.WatermarkNone, spec.Watermark.Kind)
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   func() model.RawSpec
		field string
	}{
		{"empty formats", func() model.RawSpec { return rawSpec(nil, []string{"720p"}) }, "output_formats"},
		{"empty resolutions", func() model.RawSpec { return rawSpec([]string{"mp4"}, nil) }, "output_resolutions"},
		{"unknown format", func() model.RawSpec { return rawSpec([]string{"flv"}, []string{"720p"}) }, "output_formats"},
		{"duplicate format", func() model.RawSpec { return rawSpec([]string{"mp4", "MP4"}, []string{"720p"}) }, "output_formats"},
		{"unknown resolution", func() model.RawSpec { return rawSpec([]string{"mp4"}, []string{"480p"}) }, "output_resolutions"},
		{"empty text", func() model.RawSpec {
			r := rawSpec([]string{"mp4"}, []string{"720p"})
			r.Watermark.Kind = "text"
			r.Watermark.Text = "   "
			r.Watermark.Position = "center"
			return r
		}, "watermark.text"},
		{"unknown position", func() model.RawSpec {
			r := rawSpec([]string{"mp4"}, []string{"720p"})
			r.Watermark.Kind = "text"
			r.Watermark.Text = "hi"
			r.Watermark.Position = "middle-ish"
			return r
		}, "watermark.position"},
		{"missing position", func() model.RawSpec {
			r := rawSpec([]string{"mp4"}, []string{"720p"})
			r.Watermark.Kind = "logo"
			r.Watermark.LogoRef = "logos/a.png"
			return r
		}, "watermark.position"},
		{"unknown kind", func() model.RawSpec {
			r := rawSpec([]string{"mp4"}, []string{"720p"})
			r.Watermark.Kind = "hologram"
			return r
		}, "watermark.kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw())
			requireValidationError(t, err, tt.field)
		})
	}
}

func TestValidate_Logo(t *testing.T) {
	blobs := memBlobs{
		"logos/ok.png":  pngBytes(t),
		"logos/bad.png": []byte("definitely not an image"),
	}
	v := NewValidator(blobs)

	logo := func(ref string) model.RawSpec {
		r := rawSpec([]string{"mp4"}, []string{"720p"})
		r.Watermark.Kind = "logo"
		r.Watermark.LogoRef = ref
		r.Watermark.Position = "bottom-left"
		return r
	}

	spec, err := v.Validate(context.Background(), logo("logos/ok.png"))
	require.NoError(t, err)
	assert.Equal(t, "logos/ok.png", spec.Watermark.LogoRef)
	assert.Equal(t, model.PositionBottomLeft, spec.Watermark.Position)

	_, err = v.Validate(context.Background(), logo("logos/missing.png"))
	requireValidationError(t, err, "watermark.logo_ref")

	_, err = v.Validate(context.Background(), logo("logos/bad.png"))
	requireValidationError(t, err, "watermark.logo_ref")
}

func TestValidate_LogoNeedsStorage(t *testing.T) {
	r := rawSpec([]string{"mp4"}, []string{"720p"})
	r.Watermark.Kind = "logo"
	r.Watermark.LogoRef = "logos/ok.png"
	r.Watermark.Position = "center"

	_, err := NewValidator(nil).Validate(context.Background(), r)
	requireValidationError(t, err, "watermark.logo_ref")
}
