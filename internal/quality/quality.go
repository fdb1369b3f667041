// Package quality resolves a requested stream quality against the renditions a
// target currently offers. Selection is pure: no I/O, deterministic output.
package quality

import (
	"regexp"
	"strconv"
	"strings"
)

const fallback = "best"

var labelRe = regexp.MustCompile(`^([0-9]+)p([0-9]+)?$`)

// parsed is the numeric shape of a rendition label like "720p" or "1080p60".
type parsed struct {
	label  string // original spelling, returned to the caller
	height int
	fps    int
}

// Select picks one label from available to hand to the stream tool. When the
// requested quality is not offered it falls back to the nearest rendition at
// or below the requested height, preferring 60fps among equals.
func Select(requested string, available []string) string {
	if len(available) == 0 {
		if strings.TrimSpace(requested) == "" {
			return fallback
		}
		return requested
	}
	req := strings.ToLower(strings.TrimSpace(requested))
	if req == "" {
		return fallback
	}
	// "best"/"worst" are interpreted by the stream tool itself.
	if req == fallback || req == "worst" {
		return req
	}
	for _, a := range available {
		if strings.EqualFold(a, req) {
			return a
		}
	}

	want, wantOK := parseLabel(req)
	cands := make([]parsed, 0, len(available))
	for _, a := range available {
		if p, ok := parseLabel(a); ok {
			p.label = a
			cands = append(cands, p)
		}
	}
	if !wantOK || len(cands) == 0 {
		for _, a := range available {
			if strings.EqualFold(a, fallback) {
				return a
			}
		}
		return available[0]
	}

	var atOrBelow []parsed
	for _, c := range cands {
		if c.height <= want.height {
			atOrBelow = append(atOrBelow, c)
		}
	}
	if len(atOrBelow) > 0 {
		best := atOrBelow[0]
		for _, c := range atOrBelow[1:] {
			if c.height > best.height {
				best = c
				continue
			}
			if c.height == best.height && betterFPS(c.fps, best.fps) {
				best = c
			}
		}
		return best.label
	}

	// Everything is above the requested height; take the closest one.
	best := cands[0]
	for _, c := range cands[1:] {
		dc, db := abs(c.height-want.height), abs(best.height-want.height)
		switch {
		case dc < db:
			best = c
		case dc == db && c.fps > best.fps:
			best = c
		case dc == db && c.fps == best.fps && c.height > best.height:
			best = c
		}
	}
	return best.label
}

// betterFPS prefers exactly 60fps, then the higher rate.
func betterFPS(a, b int) bool {
	if a == 60 && b != 60 {
		return true
	}
	if b == 60 {
		return false
	}
	return a > b
}

// parseLabel understands "<height>p[<fps>]", optionally followed by a
// "_", "+" or ","-delimited suffix (e.g. "720p60_alt"). fps defaults to 30.
func parseLabel(label string) (parsed, bool) {
	s := strings.ToLower(strings.TrimSpace(label))
	if i := strings.IndexAny(s, "_+,"); i >= 0 {
		s = s[:i]
	}
	m := labelRe.FindStringSubmatch(s)
	if m == nil {
		return parsed{}, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return parsed{}, false
	}
	fps := 30
	if m[2] != "" {
		if fps, err = strconv.Atoi(m[2]); err != nil {
			return parsed{}, false
		}
	}
	return parsed{height: h, fps: fps}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
