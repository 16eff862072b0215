package bus

import "strings"

// MatchSubject reports whether subject matches the filter using NATS
// wildcard rules: "*" matches exactly one token, ">" matches one or more
// trailing tokens.
func MatchSubject(filter, subject string) bool {
	if filter == subject || filter == ">" {
		return true
	}

	ft := strings.Split(filter, ".")
	st := strings.Split(subject, ".")

	for i, f := range ft {
		if f == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if f != "*" && f != st[i] {
			return false
		}
	}
	return len(ft) == len(st)
}
