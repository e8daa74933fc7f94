package target

import "strings"

// MatchPattern reports whether name matches a class filter pattern.
// A pattern is either "*", an exact name, a prefix ending in '*' or a
// suffix starting with '*'.
func MatchPattern(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case pattern == "":
		return false
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	}
	return pattern == name
}
