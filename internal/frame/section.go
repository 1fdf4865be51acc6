package frame

import "strings"

// Section identifies one of the three stacked render views.
type Section int

const (
	Overhead Section = iota
	Side
	Back
)

// Sections lists the views top to bottom.
var Sections = [3]Section{Overhead, Side, Back}

// Index returns the band index (0 top, 2 bottom).
func (s Section) Index() int { return int(s) }

func (s Section) String() string {
	switch s {
	case Overhead:
		return "Overhead"
	case Side:
		return "Side"
	case Back:
		return "Back"
	default:
		return "Unknown"
	}
}

// Tag returns the lowercase name used in debug artifact stage tags.
func (s Section) Tag() string {
	return strings.ToLower(s.String())
}

// MarshalText encodes the section by name so it can key JSON objects.
func (s Section) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
