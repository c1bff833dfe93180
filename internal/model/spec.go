package model

import "fmt"

// Format is an output container format.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatMOV  Format = "mov"
	FormatMKV  Format = "mkv"
	FormatWEBM Format = "webm"
	FormatAVI  Format = "avi"

	// FormatPNG is only used by the thumbnail unit.
	FormatPNG Format = "png"
)

// Formats lists every container a job may request.
var Formats = []Format{FormatMP4, FormatMOV, FormatMKV, FormatWEBM, FormatAVI}

// Resolution is a named output size bucket.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution4K    Resolution = "4k"

	// ResolutionThumbnail tags the still frame artifact.
	ResolutionThumbnail Resolution = "thumbnail"
)

// Resolutions lists every size bucket a job may request.
var Resolutions = []Resolution{Resolution720p, Resolution1080p, Resolution4K}

// Dimensions returns the exact pixel size of the resolution bucket.
// ok is false for the thumbnail and unknown values.
func (r Resolution) Dimensions() (width, height int, ok bool) {
	switch r {
	case Resolution720p:
		return 1280, 720, true
	case Resolution1080p:
		return 1920, 1080, true
	case Resolution4K:
		return 3840, 2160, true
	default:
		return 0, 0, false
	}
}

// Position is where a watermark is anchored on the frame.
type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionCenter      Position = "center"
)

// Positions lists every accepted anchor.
var Positions = []Position{
	PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter,
}

// WatermarkKind selects which watermark variant is active.
type WatermarkKind string

const (
	WatermarkNone WatermarkKind = "none"
	WatermarkText WatermarkKind = "text"
	WatermarkLogo WatermarkKind = "logo"
)

// Watermark is the tagged union None | Text(text, position) | Logo(ref, position).
type Watermark struct {
	Kind     WatermarkKind `json:"kind"`
	Text     string        `json:"text,omitempty"`
	LogoRef  string        `json:"logo_ref,omitempty"`
	Position Position      `json:"position,omitempty"`
}

// TransformationSpec is a validated description of what a job produces.
// Build it through transform.Validate; do not mutate it afterwards.
type TransformationSpec struct {
	Watermark                Watermark    `json:"watermark"`
	OutputFormats            []Format     `json:"output_formats"`
	OutputResolutions        []Resolution `json:"output_resolutions"`
	ApplyProtectiveTransform bool         `json:"apply_protective_transform"`
}

// RawSpec is the unvalidated request body form of a TransformationSpec.
type RawSpec struct {
	Watermark struct {
		Kind     string `json:"kind"`
		Text     string `json:"text"`
		LogoRef  string `json:"logo_ref"`
		Position string `json:"position"`
	} `json:"watermark"`
	OutputFormats            []string `json:"output_formats"`
	OutputResolutions        []string `json:"output_resolutions"`
	ApplyProtectiveTransform bool     `json:"apply_protective_transform"`
}

// Unit is one piece of work: a (format, resolution) pair or the thumbnail.
type Unit struct {
	Format     Format     `json:"format"`
	Resolution Resolution `json:"resolution"`
}

// ThumbnailUnit is the still frame extracted from every source.
var ThumbnailUnit = Unit{Format: FormatPNG, Resolution: ResolutionThumbnail}

// IsThumbnail reports whether u is the still frame unit.
func (u Unit) IsThumbnail() bool {
	return u.Resolution == ResolutionThumbnail
}

func (u Unit) String() string {
	return fmt.Sprintf("%s_%s", u.Resolution, u.Format)
}

// Matrix returns the output matrix in processing order: formats outer,
// resolutions inner, so units sharing a codec run back to back.
func (s TransformationSpec) Matrix() []Unit {
	units := make([]Unit, 0, len(s.OutputFormats)*len(s.OutputResolutions))
	for _, f := range s.OutputFormats {
		for _, r := range s.OutputResolutions {
			units = append(units, Unit{Format: f, Resolution: r})
		}
	}
	return units
}

// MatrixSize is |formats| × |resolutions|.
func (s TransformationSpec) MatrixSize() int {
	return len(s.OutputFormats) * len(s.OutputResolutions)
}
