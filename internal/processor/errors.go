package processor

import (
	"fmt"
	"regexp"
	"strings"
)

// stderrTailLines bounds how much engine output is kept on a job record.
const stderrTailLines = 8

// Pre-compiled patterns for classifying ffmpeg stderr. Checked in order;
// the first match names the failure.
var stderrClasses = []struct {
	name string
	re   *regexp.Regexp
}{
	{"unknown encoder", regexp.MustCompile(`(?i)Unknown encoder|Encoder not found`)},
	{"unsupported parameters", regexp.MustCompile(`(?i)is not supported|Specified sample rate .* not supported|Could not find tag for codec`)},
	{"invalid filter graph", regexp.MustCompile(`(?i)Error (initializing|reinitializing|configuring) (complex )?filters?|No such filter|Invalid argument.*filter`)},
	{"corrupt input", regexp.MustCompile(`(?i)Invalid data found when processing input|moov atom not found|could not find codec parameters`)},
	{"missing input", regexp.MustCompile(`(?i)No such file or directory`)},
	{"output too short", regexp.MustCompile(`(?i)Output file is empty|Output file #0 does not contain any stream`)},
}

// ExecError is a non-zero exit from the engine.
type ExecError struct {
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", Classify(e.Stderr), e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Tail returns the last few non-empty stderr lines.
func (e *ExecError) Tail() string {
	return tail(e.Stderr, stderrTailLines)
}

// Classify names the failure category found in stderr.
func Classify(stderr string) string {
	for _, c := range stderrClasses {
		if c.re.MatchString(stderr) {
			return c.name
		}
	}
	return "engine failed"
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append(kept, l)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
