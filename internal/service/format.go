package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/ctirag/internal/domain"
)

const formattedResultsCap = 3

// FormatContext renders a retrieval result for inclusion in a planner prompt.
// The output is not length capped; use Truncate before storing it anywhere
// with field limits.
func FormatContext(r *domain.RetrievalResult) string {
	if r.IsEmpty() {
		return domain.SentinelNoContext
	}

	lines := []string{"Relevant CTI findings:"}
	for i, result := range r.SearchResults {
		if i == formattedResultsCap {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, result))
	}

	lines = append(lines, "\nDetailed CTI Information:")
	for _, d := range r.DetailedContext {
		lines = append(lines, fmt.Sprintf("\n%s:", d.Name), d.Description)
	}

	return strings.Join(lines, "\n")
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
