package domain

import (
	"fmt"
	"strings"
)

// Degraded retrieval outcomes are reported as sentinel strings, not errors.
const (
	SentinelNotInitialized = "RAG service not initialized with STIX data"
	SentinelNoContext      = "No CTI context available."
	noDataPrefix           = "No CTI data found for name: "
)

// NoDataSentinel is the detail lookup result for a title with no match.
func NoDataSentinel(title string) string {
	return noDataPrefix + title
}

// IsSentinel reports whether s is one of the degraded retrieval results.
func IsSentinel(s string) bool {
	return s == SentinelNotInitialized || s == SentinelNoContext || strings.HasPrefix(s, noDataPrefix)
}

// DetailedContext is the full description retrieved for one title.
type DetailedContext struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RetrievalResult is the per-task output of the retriever. It is immutable
// once returned.
type RetrievalResult struct {
	Query           string            `json:"query"`
	SearchResults   []string          `json:"search_results"`
	DetailedContext []DetailedContext `json:"detailed_context"`
	Thoughts        []string          `json:"thoughts"`
	// Supplementary holds the titles ranked 6th to 30th. Diagnostic only.
	Supplementary []string `json:"supplementary,omitempty"`
}

// IsEmpty reports whether r carries nothing worth formatting.
func (r *RetrievalResult) IsEmpty() bool {
	return r == nil || (len(r.SearchResults) == 0 && len(r.DetailedContext) == 0)
}

// ObjectNames returns the title of each search result, or its first 100
// characters when it has no title.
func (r *RetrievalResult) ObjectNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.SearchResults))
	for _, result := range r.SearchResults {
		if title, _, ok := SplitComposite(result); ok {
			names = append(names, title)
			continue
		}
		runes := []rune(result)
		if len(runes) > 100 {
			runes = runes[:100]
		}
		names = append(names, string(runes))
	}
	return names
}

func (r *RetrievalResult) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("RetrievalResult{query=%q results=%d details=%d}", r.Query, len(r.SearchResults), len(r.DetailedContext))
}
