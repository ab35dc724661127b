package trace

import (
	"slices"
	"strings"
	"time"
)

// Tool identifiers follow <category>.<verb>[/<detail>].
const (
	ToolRetrieval = "tool.retrieval"
	ToolParse     = "tool.call/parse"
	ToolDetect    = "tool.call/detect"
	ToolRCA       = "llm.call/rca"
	ToolEmail     = "llm.call/email"
	ToolRedact    = "policy.check/redact"
	ToolApproval  = "human.approval"
)

// Span is one immutable record of an operation's execution.
type Span struct {
	SpanID       string         `json:"span_id"`
	ParentID     string         `json:"parent_id,omitempty"`
	Tool         string         `json:"tool"`
	StartTs      int64          `json:"start_ts"`
	EndTs        int64          `json:"end_ts"`
	ArgsDigest   string         `json:"args_digest"`
	ResultDigest string         `json:"result_digest"`
	Attributes   map[string]any `json:"attributes"`
	OrderID      string         `json:"order_id"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Tuple is the reproducibility key of a span.
type Tuple struct {
	Tool         string
	ArgsDigest   string
	ResultDigest string
}

// Tuple returns the span's (tool, args digest, result digest).
func (s Span) Tuple() Tuple {
	return Tuple{Tool: s.Tool, ArgsDigest: s.ArgsDigest, ResultDigest: s.ResultDigest}
}

// Tuples projects spans to their reproducibility keys, preserving order.
func Tuples(spans []Span) []Tuple {
	out := make([]Tuple, len(spans))
	for i, s := range spans {
		out[i] = s.Tuple()
	}
	return out
}

// Digests returns the distinct artifact digests referenced by spans in
// first-seen order.
func Digests(spans []Span) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range spans {
		for _, d := range []string{s.ArgsDigest, s.ResultDigest} {
			if d != "" && !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// Sort orders spans by StartTs, then EndTs. The sort is stable, so spans
// already in insertion order keep it on ties.
func Sort(spans []Span) {
	slices.SortStableFunc(spans, func(a, b Span) int {
		if a.StartTs != b.StartTs {
			if a.StartTs < b.StartTs {
				return -1
			}
			return 1
		}
		if a.EndTs != b.EndTs {
			if a.EndTs < b.EndTs {
				return -1
			}
			return 1
		}
		return 0
	})
}

// IsDetect reports whether tool is a detection step.
func IsDetect(tool string) bool {
	return strings.HasPrefix(tool, ToolDetect)
}

// IsRCA reports whether tool is a root-cause narrative step.
func IsRCA(tool string) bool {
	return strings.HasPrefix(tool, ToolRCA)
}
