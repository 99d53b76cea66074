package fieldbus

import "strings"

// ALStateNames decodes an application-layer state bitmask, e.g. "PREOP OP".
func ALStateNames(bits uint8) string {
	if bits == 0 {
		return "NONE"
	}
	var names []string
	if bits&ALStateInit != 0 {
		names = append(names, "INIT")
	}
	if bits&ALStatePreOp != 0 {
		names = append(names, "PREOP")
	}
	if bits&ALStateSafeOp != 0 {
		names = append(names, "SAFEOP")
	}
	if bits&ALStateOp != 0 {
		names = append(names, "OP")
	}
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, " ")
}
