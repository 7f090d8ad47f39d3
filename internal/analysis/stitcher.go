package analysis

import "strings"

// Placeholder marks a run of hidden lines in a stitched rendering.
const Placeholder = "# ... hidden ..."

// Stitch renders the source with lines inside collapsible ranges hidden
// unless they belong to the must-keep set. Each maximal run of hidden lines
// becomes exactly one placeholder, indented like the next visible line.
//
// A line is suppressible when it lies strictly between Start and End of some
// range with End > Start; range boundaries anchor the collapsed block and are
// never hidden. Ranges with End <= Start are ignored, overlaps are harmless,
// and out-of-bounds range limits are clamped.
func Stitch(source string, keep map[int]bool, ranges []LineRange) string {
	lines := strings.Split(source, "\n")

	suppressible := make([]bool, len(lines))
	for _, rng := range ranges {
		if rng.End <= rng.Start {
			continue
		}
		for n := rng.Start + 1; n < rng.End; n++ {
			if n >= 1 && n <= len(lines) {
				suppressible[n-1] = true
			}
		}
	}

	hidden := make([]bool, len(lines))
	for i := range lines {
		hidden[i] = suppressible[i] && !keep[i+1]
	}

	var out []string
	inGap := false
	for i, line := range lines {
		if !hidden[i] {
			out = append(out, line)
			inGap = false
			continue
		}
		if !inGap {
			out = append(out, indentOfNextVisible(lines, hidden, i)+Placeholder)
			inGap = true
		}
	}
	return strings.Join(out, "\n")
}

// Skeleton renders the structural skeleton: every collapsible range is
// hidden, nothing is kept back. An empty range list returns the source
// unchanged.
func Skeleton(source string, ranges []LineRange) string {
	return Stitch(source, nil, ranges)
}

// indentOfNextVisible returns the leading whitespace of the first visible
// line after position i, falling back to the hidden line's own indent when
// the run reaches end of file.
func indentOfNextVisible(lines []string, hidden []bool, i int) string {
	for j := i + 1; j < len(lines); j++ {
		if !hidden[j] {
			return leadingWhitespace(lines[j])
		}
	}
	return leadingWhitespace(lines[i])
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
