package filtergraph

import (
	"fmt"
	"strconv"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

const (
	// watermarkPadding is the distance from each edge for corner anchors.
	watermarkPadding = 20

	videoBitrate = "1450k"
	audioBitrate = "128k"

	protectiveFrameRate = "29.97"
	// protectiveRateShift nudges the audio clock by 0.2% before resampling
	// back to the native rate.
	protectiveRateShift = "1.002"

	// baseFontSize is the drawtext size at 720p; larger buckets scale it.
	baseFontSize = 24

	// TextFile is the auxiliary file the drawtext stage reads its text from.
	TextFile = "watermark.txt"
)

// codecs maps each container to its encoder pair.
var codecs = map[model.Format]Codec{
	model.FormatMP4:  {Video: "libx264", Audio: "aac", VideoBitrate: videoBitrate, AudioBitrate: audioBitrate, SampleRate: 44100},
	model.FormatMOV:  {Video: "libx264", Audio: "aac", VideoBitrate: videoBitrate, AudioBitrate: audioBitrate, SampleRate: 44100},
	model.FormatMKV:  {Video: "libx264", Audio: "aac", VideoBitrate: videoBitrate, AudioBitrate: audioBitrate, SampleRate: 44100},
	model.FormatAVI:  {Video: "libx264", Audio: "aac", VideoBitrate: videoBitrate, AudioBitrate: audioBitrate, SampleRate: 44100},
	model.FormatWEBM: {Video: "libvpx-vp9", Audio: "libopus", VideoBitrate: videoBitrate, AudioBitrate: audioBitrate, SampleRate: 48000},
}

// CodecFor returns the encoder pair used for a container.
func CodecFor(f model.Format) (Codec, bool) {
	c, ok := codecs[f]
	return c, ok
}

// Builder produces programs. The zero value is ready to use and lets the
// engine pick its default font.
type Builder struct {
	fontFile string
}

// NewBuilder creates a Builder whose drawtext stage uses fontFile when set.
func NewBuilder(fontFile string) *Builder {
	return &Builder{fontFile: fontFile}
}

// Build returns the program for one (format, resolution) unit of spec.
// Stage order is fixed: scale-and-pad, noise, text watermark, then the
// logo overlay as a separate merge stage.
func (b *Builder) Build(spec model.TransformationSpec, unit model.Unit) Program {
	if unit.IsThumbnail() {
		return Thumbnail()
	}

	width, height, _ := unit.Resolution.Dimensions()
	codec, ok := codecs[unit.Format]
	if !ok {
		codec = codecs[model.FormatMP4]
	}

	p := Program{
		Unit:     unit,
		Topology: TopologyChain,
		Codec:    codec,
		Output:   fmt.Sprintf("output_%s.%s", unit.Resolution, unit.Format),
		Width:    width,
		Height:   height,
	}

	p.Video = append(p.Video, scaleAndPad(width, height)...)

	if spec.ApplyProtectiveTransform {
		p.Video = append(p.Video, Stage{Filter: "noise", Args: []string{"alls=2", "allf=t"}})
	}

	switch spec.Watermark.Kind {
	case model.WatermarkText:
		p.Video = append(p.Video, b.drawText(spec.Watermark.Position, height))
	case model.WatermarkLogo:
		p.Topology = TopologyOverlay
		p.Overlay = &Stage{Filter: "overlay", Args: overlayPosition(spec.Watermark.Position)}
	}

	if spec.ApplyProtectiveTransform {
		rate := strconv.Itoa(codec.SampleRate)
		p.Protective = &Protective{
			FrameRate: protectiveFrameRate,
			Title:     "processed_" + unit.String(),
			// Resample to the codec rate first so the shift is relative to a
			// known rate whatever the source rate was.
			Audio: []Stage{
				{Filter: "aresample", Args: []string{rate}},
				{Filter: "asetrate", Args: []string{rate + "*" + protectiveRateShift}},
				{Filter: "aresample", Args: []string{rate}},
			},
		}
	}

	if unit.Format == model.FormatMP4 || unit.Format == model.FormatMOV {
		p.Container = []string{"-movflags", "+faststart"}
	}

	return p
}

// Build is a convenience for (&Builder{}).Build.
func Build(spec model.TransformationSpec, unit model.Unit) Program {
	return (&Builder{}).Build(spec, unit)
}

// Thumbnail returns the still frame program: one frame two seconds in.
func Thumbnail() Program {
	return Program{
		Unit:     model.ThumbnailUnit,
		Topology: TopologyChain,
		Still:    &Still{Seek: "00:00:02", Frames: 1, Quality: 2},
		Output:   "thumbnail.png",
	}
}

// scaleAndPad fits the frame inside width×height preserving aspect ratio,
// then pads to exactly width×height with the image centered.
func scaleAndPad(width, height int) []Stage {
	w, h := strconv.Itoa(width), strconv.Itoa(height)
	return []Stage{
		{Filter: "scale", Args: []string{w, h, "force_original_aspect_ratio=decrease"}},
		{Filter: "pad", Args: []string{w, h, "(ow-iw)/2", "(oh-ih)/2"}},
	}
}

func (b *Builder) drawText(pos model.Position, height int) Stage {
	size := baseFontSize * height / 720
	if size < baseFontSize {
		size = baseFontSize
	}

	args := make([]string, 0, 11)
	if b.fontFile != "" {
		args = append(args, "fontfile="+b.fontFile)
	}
	args = append(args,
		"textfile="+TextFile,
		"expansion=none",
		"fontcolor=white",
		"fontsize="+strconv.Itoa(size),
		"box=1",
		"boxcolor=black@0.5",
		"boxborderw=5",
	)
	args = append(args, textPosition(pos)...)

	return Stage{Filter: "drawtext", Args: args}
}

// textPosition uses drawtext's w/h (frame) and tw/th (text) variables.
func textPosition(pos model.Position) []string {
	pad := strconv.Itoa(watermarkPadding)
	switch pos {
	case model.PositionTopLeft:
		return []string{"x=" + pad, "y=" + pad}
	case model.PositionTopRight:
		return []string{"x=w-tw-" + pad, "y=" + pad}
	case model.PositionBottomLeft:
		return []string{"x=" + pad, "y=h-th-" + pad}
	case model.PositionCenter:
		return []string{"x=(w-tw)/2", "y=(h-th)/2"}
	default:
		return []string{"x=w-tw-" + pad, "y=h-th-" + pad}
	}
}

// overlayPosition uses overlay's W/H (main) and w/h (logo) variables.
func overlayPosition(pos model.Position) []string {
	pad := strconv.Itoa(watermarkPadding)
	switch pos {
	case model.PositionTopLeft:
		return []string{pad, pad}
	case model.PositionTopRight:
		return []string{"W-w-" + pad, pad}
	case model.PositionBottomLeft:
		return []string{pad, "H-h-" + pad}
	case model.PositionCenter:
		return []string{"(W-w)/2", "(H-h)/2"}
	default:
		return []string{"W-w-" + pad, "H-h-" + pad}
	}
}
