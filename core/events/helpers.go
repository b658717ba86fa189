package events

import (
	"strconv"
	"strings"
)

// normaliseMint upper-cases asset symbols the same way the engine keys them.
func normaliseMint(mint string) string {
	return strings.ToUpper(strings.TrimSpace(mint))
}

// u64 renders a fixed point amount as a base-10 attribute value.
func u64(v uint64) string { return strconv.FormatUint(v, 10) }
