package filtergraph

import (
	"strconv"
	"strings"
)

// Args translates p into an ffmpeg argument list (without the binary name).
// The layout follows one skeleton for every unit:
//
//	preamble, inputs, graph, maps, codecs, protective pass, container flags, output
func Args(p Program, in Inputs) []string {
	args := make([]string, 0, 48)

	// --- Preamble ---
	args = append(args, "-hide_banner", "-nostdin", "-y", "-loglevel", "error")

	// --- Still frame ---
	if p.Still != nil {
		args = append(args,
			"-i", in.Source,
			"-ss", p.Still.Seek,
			"-frames:v", strconv.Itoa(p.Still.Frames),
			"-q:v", strconv.Itoa(p.Still.Quality),
		)
		if len(p.Video) > 0 {
			args = append(args, "-vf", Chain(p.Video))
		}
		return append(args, p.Output)
	}

	// --- Inputs ---
	args = append(args, "-i", in.Source)
	if p.Topology == TopologyOverlay {
		args = append(args, "-i", in.Logo)
	}

	// --- Video graph and maps ---
	switch p.Topology {
	case TopologyOverlay:
		args = append(args,
			"-filter_complex", Complex(p),
			"-map", "[out]",
			"-map", "0:a?",
		)
	default:
		if len(p.Video) > 0 {
			args = append(args, "-vf", Chain(p.Video))
		}
	}

	// --- Codecs ---
	args = append(args,
		"-c:v", p.Codec.Video,
		"-c:a", p.Codec.Audio,
		"-b:v", p.Codec.VideoBitrate,
		"-b:a", p.Codec.AudioBitrate,
	)

	// --- Protective metadata pass ---
	if pr := p.Protective; pr != nil {
		args = append(args,
			"-r", pr.FrameRate,
			"-map_metadata", "-1",
			"-metadata", "title="+pr.Title,
		)
		if len(pr.Audio) > 0 {
			args = append(args, "-af", Chain(pr.Audio))
		}
	}

	// --- Container opts ---
	args = append(args, p.Container...)

	// --- Output ---
	return append(args, p.Output)
}

// Chain joins stages into a single-stream filter chain.
func Chain(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// Complex renders the two-input overlay graph:
//
//	[0:v]<chain>[main];[main][1:v]overlay=...[out]
func Complex(p Program) string {
	var b strings.Builder
	b.WriteString("[0:v]")
	if len(p.Video) > 0 {
		b.WriteString(Chain(p.Video))
	} else {
		b.WriteString("null")
	}
	b.WriteString("[main];[main][1:v]")
	if p.Overlay != nil {
		b.WriteString(p.Overlay.String())
	} else {
		b.WriteString("overlay")
	}
	b.WriteString("[out]")
	return b.String()
}
