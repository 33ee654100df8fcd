package workflow

import (
	"encoding/json"
	"sort"
	"strings"
)

// DocKey identifies a document type, e.g. "F2F" or "PT_EVAL".
type DocKey string

// DocStatus is the completion state of a single document on an order.
type DocStatus string

const (
	DocComplete DocStatus = "Complete"
	DocMissing  DocStatus = "Missing"
)

var validDocStatuses = map[DocStatus]bool{
	DocComplete: true,
	DocMissing:  true,
}

// ParseDocStatus accepts "Complete" or "Missing" (case-insensitive).
func ParseDocStatus(s string) (DocStatus, bool) {
	for st := range validDocStatuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// DocSet is an unordered set of document keys. It marshals to a sorted JSON array.
type DocSet map[DocKey]struct{}

func NewDocSet(keys ...DocKey) DocSet {
	s := make(DocSet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// DocSetFromStrings builds a set from raw codes, dropping blanks.
func DocSetFromStrings(codes []string) DocSet {
	s := make(DocSet, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			s.Add(DocKey(c))
		}
	}
	return s
}

func (s DocSet) Add(keys ...DocKey) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

func (s DocSet) Has(k DocKey) bool {
	_, ok := s[k]
	return ok
}

func (s DocSet) Len() int { return len(s) }

// Clone returns a copy that never aliases s. A nil set clones to an empty one.
func (s DocSet) Clone() DocSet {
	out := make(DocSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Union returns a new set with the members of s and other.
func (s DocSet) Union(other DocSet) DocSet {
	out := s.Clone()
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Intersect returns a new set with the members present in both s and other.
func (s DocSet) Intersect(other DocSet) DocSet {
	out := make(DocSet)
	for k := range s {
		if other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// ContainsAll reports whether every member of other is in s.
func (s DocSet) ContainsAll(other DocSet) bool {
	for k := range other {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

func (s DocSet) Equal(other DocSet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Sorted returns the keys in lexical order.
func (s DocSet) Sorted() []DocKey {
	keys := make([]DocKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Strings returns the sorted keys as plain strings, suitable for a text[] column.
func (s DocSet) Strings() []string {
	keys := s.Sorted()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func (s DocSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *DocSet) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = DocSetFromStrings(codes)
	return nil
}

// DocumentCatalog is the set of document keys known to the surrounding
// application. An empty catalog accepts every key.
type DocumentCatalog struct {
	known DocSet
}

func NewDocumentCatalog(keys ...DocKey) *DocumentCatalog {
	return &DocumentCatalog{known: NewDocSet(keys...)}
}

// Enabled reports whether the catalog restricts keys at all.
func (c *DocumentCatalog) Enabled() bool {
	return c != nil && c.known.Len() > 0
}

// Unknown returns the keys not present in the catalog, sorted.
func (c *DocumentCatalog) Unknown(keys ...DocKey) []DocKey {
	if !c.Enabled() {
		return nil
	}
	var unknown []DocKey
	for _, k := range NewDocSet(keys...).Sorted() {
		if !c.known.Has(k) {
			unknown = append(unknown, k)
		}
	}
	return unknown
}
