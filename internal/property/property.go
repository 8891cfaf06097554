// Package property holds the typed field definitions a project applies to
// its tasks, and the read/write rules for the string-serialized values
// stored against them.
package property

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

type Type string

const (
	TypeText   Type = "text"
	TypeSelect Type = "select"
	TypeDate   Type = "date"
	TypeUser   Type = "user"
)

func ValidType(t string) bool {
	switch Type(t) {
	case TypeText, TypeSelect, TypeDate, TypeUser:
		return true
	default:
		return false
	}
}

// SelectOption is one choice of a select property.
type SelectOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// Options is the type-specific configuration stored on a property. Fields
// irrelevant to the property's type are ignored by readers.
type Options struct {
	Values         []SelectOption `json:"values"`
	IsMultiple     bool           `json:"isMultiple"`
	NotifyOnChange bool           `json:"notifyOnChange"`
	IncludeTime    bool           `json:"includeTime"`
	AllowRange     bool           `json:"allowRange"`
	DefaultToToday bool           `json:"defaultToToday"`
}

// Merge overlays non-zero fields of an update onto existing options. Select
// choices are replaced wholesale when provided.
func (o Options) Merge(update Options) Options {
	merged := update
	if update.Values == nil {
		merged.Values = o.Values
	}
	return merged
}

func (o Options) hasValue(v string) bool {
	for _, opt := range o.Values {
		if opt.Value == v {
			return true
		}
	}
	return false
}

// SlugifyKey derives a storage key from a display name: lowercase, runs of
// non-alphanumerics collapsed to single underscores. "Due Date!" -> "due_date".
func SlugifyKey(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// SplitMulti parses the delimited multi-value format: comma-joined raw
// values, no escaping of embedded commas. Kept byte-compatible with the
// stored format; callers re-join with JoinMulti.
func SplitMulti(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func JoinMulti(values []string) string {
	return strings.Join(values, ",")
}

// ContainsValue reports whether a stored (possibly multi) value contains the
// given raw element. Used for assigned-task filtering.
func ContainsValue(stored, element string) bool {
	for _, v := range SplitMulti(stored) {
		if v == element {
			return true
		}
	}
	return false
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"}

func validDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// ValidateValue checks a raw value against the property's type before it is
// written. Empty values are always accepted (the caller decides whether an
// empty write skips or upserts). Multi-valued properties have each element
// checked. User-type elements are returned for existence checks by the
// caller, since this package has no storage access.
func ValidateValue(t Type, opts Options, value string) (userIDs []string, err error) {
	if value == "" {
		return nil, nil
	}

	elements := []string{value}
	if opts.IsMultiple && (t == TypeSelect || t == TypeUser) {
		elements = SplitMulti(value)
	}

	switch t {
	case TypeText:
		return nil, nil
	case TypeSelect:
		for _, el := range elements {
			if len(opts.Values) > 0 && !opts.hasValue(el) {
				return nil, fmt.Errorf("value %q is not one of the allowed options", el)
			}
		}
		return nil, nil
	case TypeDate:
		// Range dates are stored as "start,end".
		if opts.AllowRange {
			elements = SplitMulti(value)
		}
		for _, el := range elements {
			if !validDate(el) {
				return nil, fmt.Errorf("value %q is not a valid date", el)
			}
		}
		return nil, nil
	case TypeUser:
		return elements, nil
	default:
		return nil, fmt.Errorf("unknown property type %q", t)
	}
}
