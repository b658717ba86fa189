package types

import (
	"sort"
	"strings"
)

// Event is the transport form of an engine event. Amounts and prices travel
// as base-10 strings of 1e9-scaled integers so no consumer loses precision.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// String renders the event as its type followed by key=value pairs in key
// order.
func (e *Event) String() string {
	if e == nil {
		return ""
	}
	keys := make([]string, 0, len(e.Attributes))
	for key := range e.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(e.Type)
	for _, key := range keys {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(e.Attributes[key])
	}
	return b.String()
}
