// Package transform validates client supplied transformation specs.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

// maxLogoBytes bounds how much of a logo blob is read during validation.
const maxLogoBytes = 10 << 20

// blobLoader resolves object storage references to their bytes.
type blobLoader interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}

// Validator turns a RawSpec into a TransformationSpec.
type Validator struct {
	blobs blobLoader
}

// NewValidator creates a Validator that resolves logo references through blobs.
func NewValidator(blobs blobLoader) *Validator {
	return &Validator{blobs: blobs}
}

// Validate normalizes raw and checks that a logo watermark resolves to a
// decodable image. Every rejection is a *model.ValidationError.
func (v *Validator) Validate(ctx context.Context, raw model.RawSpec) (model.TransformationSpec, error) {
	spec, err := Normalize(raw)
	if err != nil {
		return model.TransformationSpec{}, err
	}

	if spec.Watermark.Kind == model.WatermarkLogo {
		if err := v.checkLogo(ctx, spec.Watermark.LogoRef); err != nil {
			return model.TransformationSpec{}, err
		}
	}

	return spec, nil
}

func (v *Validator) checkLogo(ctx context.Context, ref string) error {
	if v.blobs == nil {
		return &model.ValidationError{Field: "watermark.logo_ref", Reason: "logo storage is not configured"}
	}

	rc, err := v.blobs.Download(ctx, ref)
	if err != nil {
		return &model.ValidationError{Field: "watermark.logo_ref", Reason: fmt.Sprintf("cannot load %q: %v", ref, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxLogoBytes+1))
	if err != nil {
		return &model.ValidationError{Field: "watermark.logo_ref", Reason: fmt.Sprintf("cannot read %q: %v", ref, err)}
	}
	if len(data) == 0 {
		return &model.ValidationError{Field: "watermark.logo_ref", Reason: "logo is empty"}
	}
	if len(data) > maxLogoBytes {
		return &model.ValidationError{Field: "watermark.logo_ref", Reason: "logo exceeds 10MB"}
	}

	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return &model.ValidationError{Field: "watermark.logo_ref", Reason: fmt.Sprintf("not an image: %v", err)}
	}

	return nil
}

// Normalize performs every check that needs no I/O. Values are trimmed and
// lowercased; order is preserved; duplicates and unknown values are rejected.
func Normalize(raw model.RawSpec) (model.TransformationSpec, error) {
	var spec model.TransformationSpec

	formats, err := parseSet("output_formats", raw.OutputFormats, model.Formats)
	if err != nil {
		return spec, err
	}
	resolutions, err := parseSet("output_resolutions", raw.OutputResolutions, model.Resolutions)
	if err != nil {
		return spec, err
	}
	wm, err := parseWatermark(raw)
	if err != nil {
		return spec, err
	}

	spec.OutputFormats = formats
	spec.OutputResolutions = resolutions
	spec.Watermark = wm
	spec.ApplyProtectiveTransform = raw.ApplyProtectiveTransform

	return spec, nil
}

func parseWatermark(raw model.RawSpec) (model.Watermark, error) {
	kind := model.WatermarkKind(normalize(raw.Watermark.Kind))
	if kind == "" {
		kind = model.WatermarkNone
	}

	switch kind {
	case model.WatermarkNone:
		return model.Watermark{Kind: model.WatermarkNone}, nil
	case model.WatermarkText:
		text := strings.TrimSpace(raw.Watermark.Text)
		if text == "" {
			return model.Watermark{}, &model.ValidationError{Field: "watermark.text", Reason: "must not be empty"}
		}
		pos, err := parsePosition(raw.Watermark.Position)
		if err != nil {
			return model.Watermark{}, err
		}
		return model.Watermark{Kind: kind, Text: text, Position: pos}, nil
	case model.WatermarkLogo:
		ref := strings.TrimSpace(raw.Watermark.LogoRef)
		if ref == "" {
			return model.Watermark{}, &model.ValidationError{Field: "watermark.logo_ref", Reason: "must not be empty"}
		}
		pos, err := parsePosition(raw.Watermark.Position)
		if err != nil {
			return model.Watermark{}, err
		}
		return model.Watermark{Kind: kind, LogoRef: ref, Position: pos}, nil
	default:
		return model.Watermark{}, &model.ValidationError{
			Field:  "watermark.kind",
			Reason: fmt.Sprintf("unknown kind %q", raw.Watermark.Kind),
		}
	}
}

// parsePosition rejects unknown anchors instead of falling back to a corner.
func parsePosition(s string) (model.Position, error) {
	p := model.Position(normalize(s))
	for _, known := range model.Positions {
		if p == known {
			return p, nil
		}
	}
	return "", &model.ValidationError{Field: "watermark.position", Reason: fmt.Sprintf("unknown position %q", s)}
}

func parseSet[T ~string](field string, values []string, allowed []T) ([]T, error) {
	if len(values) == 0 {
		return nil, &model.ValidationError{Field: field, Reason: "must not be empty"}
	}

	out := make([]T, 0, len(values))
	seen := make(map[T]struct{}, len(values))
	for _, v := range values {
		t := T(normalize(v))
		if !contains(allowed, t) {
			return nil, &model.ValidationError{Field: field, Reason: fmt.Sprintf("unsupported value %q", v)}
		}
		if _, dup := seen[t]; dup {
			return nil, &model.ValidationError{Field: field, Reason: fmt.Sprintf("duplicate value %q", v)}
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	return out, nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
