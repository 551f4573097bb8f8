// Package corpus turns STIX bundles into the flat record corpus that the
// retrieval index is built from.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/ctirag/internal/domain"
)

// Corpus is the ordered record sequence plus the exact-match title lookup.
type Corpus struct {
	Records []domain.IntelRecord
	// Titles maps title to body. Last write wins on duplicate titles.
	Titles map[string]string
}

// Len returns the number of records.
func (c Corpus) Len() int {
	return len(c.Records)
}

// Texts returns the composite text of every record in insertion order.
func (c Corpus) Texts() []string {
	texts := make([]string, len(c.Records))
	for i, r := range c.Records {
		texts[i] = r.CompositeText()
	}
	return texts
}

// Lookup returns the body stored for title.
func (c Corpus) Lookup(title string) (string, bool) {
	body, ok := c.Titles[title]
	return body, ok
}

// ParseBundle decodes a STIX bundle document.
func ParseBundle(data []byte) (*domain.Bundle, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, domain.ErrMalformedBundle.Wrap(fmt.Errorf("bundle must be a JSON object"))
	}

	var bundle domain.Bundle
	if err := json.Unmarshal(trimmed, &bundle); err != nil {
		return nil, domain.ErrMalformedBundle.Wrap(err)
	}
	return &bundle, nil
}

// Extract walks the bundle objects in order and keeps the retrievable ones
// that carry a name or a description.
func Extract(bundle *domain.Bundle) Corpus {
	c := Corpus{Titles: make(map[string]string)}
	if bundle == nil {
		return c
	}

	for _, raw := range bundle.Objects {
		var obj domain.IntelObject
		// Sub-objects that are not JSON objects cannot be typed and are skipped.
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		if !obj.Type.IsRetrievable() {
			continue
		}

		record := domain.IntelRecord{Title: obj.Title(), Body: obj.Body()}
		if record.IsEmpty() {
			continue
		}
		c.Titles[record.Title] = record.Body
		c.Records = append(c.Records, record)
	}

	return c
}

// Merge concatenates corpora in order. Title lookups merge last-write-wins.
func Merge(corpora ...Corpus) Corpus {
	merged := Corpus{Titles: make(map[string]string)}
	for _, c := range corpora {
		merged.Records = append(merged.Records, c.Records...)
		for title, body := range c.Titles {
			merged.Titles[title] = body
		}
	}
	return merged
}

// ExtractAll extracts every bundle independently and merges the results.
func ExtractAll(bundles ...*domain.Bundle) Corpus {
	corpora := make([]Corpus, 0, len(bundles))
	for _, b := range bundles {
		corpora = append(corpora, Extract(b))
	}
	return Merge(corpora...)
}
