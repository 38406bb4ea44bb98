// Package dialog finds the dialog box on each recognized screen and merges
// the noisy, repeated and paginated pages it shows into finished utterances.
package dialog

import (
	"regexp"
	"strings"
)

// DistMerge compares a and b position by position and returns the number of
// disagreeing positions together with their merge.
//
// The shorter string is padded with filler. Filler on either side is a
// wildcard and never counts toward the distance, so tiles that drop out for
// a frame do not start a new page. The merge takes b's rune wherever b is
// concrete and falls back to a's otherwise.
func DistMerge(a, b string, filler rune) (int, string) {
	ra, rb := []rune(a), []rune(b)
	n := max(len(ra), len(rb))

	dist := 0
	var out strings.Builder
	for i := 0; i < n; i++ {
		ca, cb := filler, filler
		if i < len(ra) {
			ca = ra[i]
		}
		if i < len(rb) {
			cb = rb[i]
		}
		if ca != filler && cb != filler && ca != cb {
			dist++
		}
		if cb != filler {
			out.WriteRune(cb)
		} else {
			out.WriteRune(ca)
		}
	}
	return dist, out.String()
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapse merges the lines of every page of a group, consecutive lines
// below maxDist folding into one, and renders the resulting utterance.
func collapse(group []string, filler rune, maxDist int) (string, []string) {
	out := []string{""}
	for _, page := range group {
		for _, line := range strings.Split(page, "\n") {
			if line == "" {
				continue
			}
			if dist, merged := DistMerge(out[len(out)-1], line, filler); dist < maxDist {
				out[len(out)-1] = merged
			} else {
				out = append(out, line)
			}
		}
	}

	lines := make([]string, 0, len(out))
	for _, l := range out {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	text := strings.TrimSpace(strings.Join(out, " "))
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "- ", "")
	return text, lines
}
