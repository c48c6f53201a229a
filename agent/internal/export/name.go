package export

import "strings"

const unitSeparator = "_"

// SplitName splits a compound family name on its last underscore into a
// metric name and unit. A name without an underscore has an empty unit.
func SplitName(compound string) (name, unit string) {
	i := strings.LastIndex(compound, unitSeparator)
	if i < 0 {
		return compound, ""
	}
	return compound[:i], compound[i+len(unitSeparator):]
}

// JoinName is the inverse of SplitName.
func JoinName(name, unit string) string {
	if unit == "" {
		return name
	}
	return name + unitSeparator + unit
}
