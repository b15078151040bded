package crawl

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Summary carries the final result counts of a completed run. It is populated
// exactly once, when the run transitions to Completed, and frozen thereafter.
type Summary struct {
	// TotalArticles is the total number of items produced across all workers.
	TotalArticles int

	// SourceCounts maps worker key to the number of items that worker
	// produced.
	SourceCounts map[string]int

	// Raw is the verbatim summary payload from the backend when one was
	// provided; nil when the summary was synthesized locally.
	Raw json.RawMessage
}

// summaryPayload is the wire shape of a backend-provided summary.
type summaryPayload struct {
	TotalArticles int            `json:"total_articles"`
	SourceCounts  map[string]int `json:"source_counts"`
}

// SummaryFromPayload decodes a backend-provided summary payload. A payload
// that fails to decode yields a nil summary so the caller falls back to local
// synthesis rather than completing with garbage.
func SummaryFromPayload(raw json.RawMessage) *Summary {
	if len(raw) == 0 {
		return nil
	}

	var p summaryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}

	return &Summary{
		TotalArticles: p.TotalArticles,
		SourceCounts:  p.SourceCounts,
		Raw:           raw,
	}
}

// SynthesizeSummary builds a summary from locally accumulated worker counts.
// Used when the push channel announces completion without a full payload.
func SynthesizeSummary(workers map[string]WorkerStatus) *Summary {
	counts := make(map[string]int, len(workers))
	total := 0
	for key, w := range workers {
		counts[key] = w.UnitsDone
		total += w.UnitsDone
	}
	return &Summary{TotalArticles: total, SourceCounts: counts}
}

// Clone returns a deep copy so published state never shares mutable maps with
// internal state.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	cp := &Summary{TotalArticles: s.TotalArticles}
	if s.SourceCounts != nil {
		cp.SourceCounts = maps.Clone(s.SourceCounts)
	}
	if s.Raw != nil {
		cp.Raw = bytes.Clone(s.Raw)
	}
	return cp
}

func summaryEqual(a, b *Summary) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.TotalArticles == b.TotalArticles &&
		maps.Equal(a.SourceCounts, b.SourceCounts) &&
		bytes.Equal(a.Raw, b.Raw)
}
