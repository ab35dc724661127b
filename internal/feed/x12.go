package feed

import (
	"bytes"
	"strings"
)

// Segment is one X12 segment split into elements. Index 0 is the segment
// identifier, so Element(3) is the X12 element "03".
type Segment []string

// ID returns the segment identifier (BEG, DTM, ...).
func (s Segment) ID() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Element returns the element at position i and whether it is present and
// non-empty.
func (s Segment) Element(i int) (string, bool) {
	if i <= 0 || i >= len(s) {
		return "", false
	}
	v := strings.TrimSpace(s[i])
	return v, v != ""
}

// envelope segments carry interchange routing, not order facts.
var envelope = map[string]bool{
	"ISA": true,
	"IEA": true,
	"GS":  true,
	"GE":  true,
}

const (
	defaultElementSeparator = '*'
	segmentTerminator       = '~'
)

// ParseSegments splits raw X12 bytes into segments. Segments may be
// separated by the "~" terminator, newlines, or both. The element
// separator is taken from the ISA header when present, else "*".
func ParseSegments(data []byte) []Segment {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	sep := byte(defaultElementSeparator)
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 3 && bytes.HasPrefix(trimmed, []byte("ISA")) {
		sep = trimmed[3]
	}

	segments := []Segment{}
	split := func(r rune) bool {
		return r == segmentTerminator || r == '\n' || r == '\r'
	}
	for _, raw := range strings.FieldsFunc(string(data), split) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		seg := Segment(strings.Split(raw, string(sep)))
		if envelope[seg.ID()] {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// Located pairs a segment with its index in the parsed feed.
type Located struct {
	Index   int
	Segment Segment
}

// Find returns the segments with the given identifier in feed order.
func Find(segments []Segment, id string) []Located {
	var out []Located
	for i, s := range segments {
		if s.ID() == id {
			out = append(out, Located{Index: i, Segment: s})
		}
	}
	return out
}

// FindQualified returns segments whose element 01 equals qualifier, such as
// DTM segments with date qualifier 011 (delivered).
func FindQualified(segments []Segment, id, qualifier string) []Located {
	var out []Located
	for _, loc := range Find(segments, id) {
		if q, ok := loc.Segment.Element(1); ok && q == qualifier {
			out = append(out, loc)
		}
	}
	return out
}
