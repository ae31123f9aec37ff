// Package index implements the multi-field inverted index over
// announcements: field -> value -> ordered duplicate-free set of
// announcement ids. Like the primary stores it carries no lock of its own;
// the consistency coordinator serialises access to the store/index pair.
package index

import (
	"encoding/json"
	"iter"
	"slices"

	"github.com/jeongwoohan/grantcat/internal/catalog"
)

// Indexed field names. These are also the persisted key names, so renaming
// one is a data-format change.
const (
	FieldOrganization = "organization_name"
	FieldRegion       = "region"
	FieldSupportField = "support_field"
	FieldTitleKeyword = "title_keywords"
)

// Fields lists every indexed field.
var Fields = []string{FieldOrganization, FieldRegion, FieldSupportField, FieldTitleKeyword}

// Binding is one (field, value) key an announcement is indexed under.
type Binding struct {
	Field string
	Value string
}

// Bindings derives every index key the given announcement populates.
func Bindings(a catalog.Announcement) []Binding {
	var bindings []Binding
	if a.OrgName != "" {
		bindings = append(bindings, Binding{FieldOrganization, a.OrgName})
	}
	if a.Region != "" {
		bindings = append(bindings, Binding{FieldRegion, a.Region})
	}
	for _, field := range catalog.SupportFields(a.SupportField) {
		bindings = append(bindings, Binding{FieldSupportField, field})
	}
	for _, token := range TokenizeTitle(a.Title) {
		bindings = append(bindings, Binding{FieldTitleKeyword, token})
	}
	return bindings
}

// Inverted maps (field, value) keys to sorted id sets.
type Inverted struct {
	fields map[string]map[string][]string
}

// New creates an empty index with every known field present.
func New() *Inverted {
	ix := &Inverted{fields: make(map[string]map[string][]string, len(Fields))}
	for _, f := range Fields {
		ix.fields[f] = make(map[string][]string)
	}
	return ix
}

// Add inserts id under (field, value). Adding an id already present is a
// no-op; the id set stays sorted and duplicate-free.
func (ix *Inverted) Add(field, value, id string) {
	if value == "" || id == "" {
		return
	}
	values, ok := ix.fields[field]
	if !ok {
		values = make(map[string][]string)
		ix.fields[field] = values
	}
	ids := values[value]
	pos, found := slices.BinarySearch(ids, id)
	if found {
		return
	}
	values[value] = slices.Insert(ids, pos, id)
}

// Remove deletes id from (field, value). Removing an absent id is a no-op;
// a key whose set becomes empty is dropped.
func (ix *Inverted) Remove(field, value, id string) {
	values, ok := ix.fields[field]
	if !ok {
		return
	}
	ids := values[value]
	pos, found := slices.BinarySearch(ids, id)
	if !found {
		return
	}
	ids = slices.Delete(ids, pos, pos+1)
	if len(ids) == 0 {
		delete(values, value)
		return
	}
	values[value] = ids
}

// Lookup returns a copy of the id set under (field, value). An absent key
// yields an empty set, not an error.
func (ix *Inverted) Lookup(field, value string) []string {
	ids := ix.fields[field][value]
	return slices.Clone(ids)
}

// Contains reports whether id is indexed under (field, value).
func (ix *Inverted) Contains(field, value, id string) bool {
	_, found := slices.BinarySearch(ix.fields[field][value], id)
	return found
}

// AddRecord indexes an announcement under every binding it populates.
func (ix *Inverted) AddRecord(a catalog.Announcement) {
	for _, b := range Bindings(a) {
		ix.Add(b.Field, b.Value, a.ID)
	}
}

// RemoveRecord removes an announcement from every binding it populates.
// Callers must pass the record as it was indexed (the pre-mutation
// snapshot), not the post-mutation value.
func (ix *Inverted) RemoveRecord(a catalog.Announcement) {
	for _, b := range Bindings(a) {
		ix.Remove(b.Field, b.Value, a.ID)
	}
}

// Rebuild clears the index and repopulates it from the full record walk.
func (ix *Inverted) Rebuild(records iter.Seq2[string, catalog.Announcement]) {
	ix.Reset()
	for _, rec := range records {
		ix.AddRecord(rec)
	}
}

// Reset drops every entry.
func (ix *Inverted) Reset() {
	ix.fields = make(map[string]map[string][]string, len(Fields))
	for _, f := range Fields {
		ix.fields[f] = make(map[string][]string)
	}
}

// EntryCount returns the number of (field, value) keys.
func (ix *Inverted) EntryCount() int {
	n := 0
	for _, values := range ix.fields {
		n += len(values)
	}
	return n
}

// IDs returns the set of every id referenced anywhere in the index.
func (ix *Inverted) IDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, values := range ix.fields {
		for _, set := range values {
			for _, id := range set {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}

// MarshalJSON renders the index in its persisted layout: field name ->
// field value -> id list.
func (ix *Inverted) MarshalJSON() ([]byte, error) {
	return json.Marshal(ix.fields)
}

// UnmarshalJSON restores the persisted layout, re-sorting id sets so
// lookups can binary-search regardless of how the file was produced.
func (ix *Inverted) UnmarshalJSON(data []byte) error {
	fields := make(map[string]map[string][]string)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, f := range Fields {
		if fields[f] == nil {
			fields[f] = make(map[string][]string)
		}
	}
	for _, values := range fields {
		for value, ids := range values {
			slices.Sort(ids)
			values[value] = slices.Compact(ids)
		}
	}
	ix.fields = fields
	return nil
}

// Equal reports whether two indexes hold identical entries. Used to verify
// rebuild idempotence in tests and divergence checks.
func (ix *Inverted) Equal(other *Inverted) bool {
	if len(ix.fields) != len(other.fields) {
		return false
	}
	for field, values := range ix.fields {
		otherValues := other.fields[field]
		if len(values) != len(otherValues) {
			return false
		}
		for value, ids := range values {
			if !slices.Equal(ids, otherValues[value]) {
				return false
			}
		}
	}
	return true
}
