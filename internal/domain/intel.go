package domain

import (
	"encoding/json"
	"strings"
)

// Separator joins a record's title and body into its composite text.
const Separator = " | "

// ObjectType is the declared STIX type of a bundle sub-object.
type ObjectType string

const (
	ObjectTypeAttackPattern ObjectType = "attack-pattern"
	ObjectTypeMalware       ObjectType = "malware"
	ObjectTypeTool          ObjectType = "tool"
	ObjectTypeThreatActor   ObjectType = "threat-actor"
	ObjectTypeIntrusionSet  ObjectType = "intrusion-set"
	ObjectTypeIdentity      ObjectType = "identity"
	ObjectTypeIndicator     ObjectType = "indicator"
	ObjectTypeReport        ObjectType = "report"
)

// IsRetrievable reports whether objects of this type enter the corpus.
func (t ObjectType) IsRetrievable() bool {
	switch t {
	case ObjectTypeAttackPattern, ObjectTypeMalware, ObjectTypeTool,
		ObjectTypeThreatActor, ObjectTypeIntrusionSet, ObjectTypeIdentity,
		ObjectTypeIndicator, ObjectTypeReport:
		return true
	}
	return false
}

// Bundle is a parsed STIX bundle. Objects stay raw until the extractor
// decides which of them are retrievable.
type Bundle struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Objects []json.RawMessage `json:"objects"`
}

// IntelObject is a retrievable STIX sub-object. Name and Description are nil
// when the source omitted them.
type IntelObject struct {
	Type        ObjectType `json:"type"`
	ID          string     `json:"id"`
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// Title returns the object name or "".
func (o IntelObject) Title() string {
	if o.Name == nil {
		return ""
	}
	return *o.Name
}

// Body returns the object description or "".
func (o IntelObject) Body() string {
	if o.Description == nil {
		return ""
	}
	return *o.Description
}

// IntelRecord is one retrievable unit of the corpus.
type IntelRecord struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// CompositeText is the text that gets embedded and searched.
func (r IntelRecord) CompositeText() string {
	return r.Title + Separator + r.Body
}

// IsEmpty reports whether both title and body are empty.
func (r IntelRecord) IsEmpty() bool {
	return r.Title == "" && r.Body == ""
}

// SplitComposite splits a composite text on the first separator. ok is false
// when text carries no separator.
func SplitComposite(text string) (title, body string, ok bool) {
	return strings.Cut(text, Separator)
}
