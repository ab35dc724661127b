package trace

// KPIs are derived on demand from an order's spans; nothing is persisted.
type KPIs struct {
	// EvidenceTime is max(EndTs) - min(StartTs) over all spans.
	EvidenceTime int64 `json:"evidence_time"`

	// TimeToRCA is StartTs(first rca span) - StartTs(first detect span),
	// or 0 when either is missing.
	TimeToRCA int64 `json:"time_to_rca"`
}

// ComputeKPIs derives KPIs from spans in any order.
func ComputeKPIs(spans []Span) KPIs {
	if len(spans) == 0 {
		return KPIs{}
	}
	sorted := append([]Span(nil), spans...)
	Sort(sorted)

	minStart, maxEnd := sorted[0].StartTs, sorted[0].EndTs
	var detect, rca *Span
	for i := range sorted {
		s := &sorted[i]
		minStart = min(minStart, s.StartTs)
		maxEnd = max(maxEnd, s.EndTs)
		if detect == nil && IsDetect(s.Tool) {
			detect = s
		}
		if rca == nil && IsRCA(s.Tool) {
			rca = s
		}
	}

	k := KPIs{EvidenceTime: maxEnd - minStart}
	if detect != nil && rca != nil {
		k.TimeToRCA = rca.StartTs - detect.StartTs
	}
	return k
}
