// Package filtergraph maps a TransformationSpec and one output unit to a
// typed FilterProgram, and translates that program into ffmpeg arguments.
//
// Build is pure: it performs no I/O and, given a validated spec, always
// returns a complete program. Args is the only place that knows ffmpeg's
// argument and filter syntax.
package filtergraph

import (
	"strings"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

// Topology selects the shape of the video graph.
type Topology int

const (
	// TopologyChain is a single-input linear filter chain (-vf).
	TopologyChain Topology = iota
	// TopologyOverlay merges a second input (the logo) onto the chain
	// output (-filter_complex).
	TopologyOverlay
)

func (t Topology) String() string {
	if t == TopologyOverlay {
		return "overlay"
	}
	return "chain"
}

// Stage is one filter directive, e.g. scale=1280:720:force_original_aspect_ratio=decrease.
type Stage struct {
	Filter string
	Args   []string // positional values or key=value pairs, in order
}

// String renders the stage in filtergraph syntax.
func (s Stage) String() string {
	if len(s.Args) == 0 {
		return s.Filter
	}
	return s.Filter + "=" + strings.Join(s.Args, ":")
}

// Codec is the encoder selection for one output container.
type Codec struct {
	Video        string
	Audio        string
	VideoBitrate string
	AudioBitrate string
	SampleRate   int // native audio rate the protective retime is based on
}

// Protective holds the metadata pass that alters a file's fingerprint.
type Protective struct {
	FrameRate string  // forced output rate
	Title     string  // synthetic title tag, written after source metadata is stripped
	Audio     []Stage // audio retime/resample chain
}

// Still describes a single frame extraction.
type Still struct {
	Seek    string
	Frames  int
	Quality int
}

// Program is the complete, ordered description of one engine invocation.
type Program struct {
	Unit     model.Unit
	Topology Topology

	Video   []Stage // main single-stream chain, applied to input 0
	Overlay *Stage  // set only for TopologyOverlay

	Codec      Codec
	Protective *Protective
	Container  []string // container specific output flags
	Still      *Still   // set only for the thumbnail

	Output string // output file name inside the engine's working namespace
	Width  int
	Height int
}

// Inputs names the files the program reads inside the working namespace.
type Inputs struct {
	Source string
	Logo   string
}
