package throttler

import (
	"regexp"
	"strings"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Predicate decides whether a rule applies to a crash's annotations.
type Predicate interface {
	Match(annotations collector.Annotations) bool
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(annotations collector.Annotations) bool

// Match implements Predicate.
func (f PredicateFunc) Match(annotations collector.Annotations) bool {
	return f(annotations)
}

// Always matches every crash.
func Always() Predicate {
	return PredicateFunc(func(collector.Annotations) bool { return true })
}

// Has matches when the named annotation is present, whatever its value.
func Has(key string) Predicate {
	return PredicateFunc(func(a collector.Annotations) bool {
		_, ok := a[key]
		return ok
	})
}

// Eq matches when the named annotation equals value exactly.
func Eq(key, value string) Predicate {
	return PredicateFunc(func(a collector.Annotations) bool {
		got, ok := a[key]
		return ok && got == value
	})
}

// Regex matches when the named annotation is present and matches the
// compiled pattern.
func Regex(key string, pattern *regexp.Regexp) Predicate {
	return PredicateFunc(func(a collector.Annotations) bool {
		got, ok := a[key]
		return ok && pattern.MatchString(got)
	})
}

// In matches when the named annotation is one of the given values.
func In(key string, values ...string) Predicate {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return PredicateFunc(func(a collector.Annotations) bool {
		got, ok := a[key]
		if !ok {
			return false
		}
		_, ok = set[got]
		return ok
	})
}

// HasPrefix matches when the named annotation starts with prefix.
func HasPrefix(key, prefix string) Predicate {
	return PredicateFunc(func(a collector.Annotations) bool {
		got, ok := a[key]
		return ok && strings.HasPrefix(got, prefix)
	})
}

// And matches when every sub-predicate matches.
func And(preds ...Predicate) Predicate {
	return PredicateFunc(func(a collector.Annotations) bool {
		for _, p := range preds {
			if !p.Match(a) {
				return false
			}
		}
		return true
	})
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(a collector.Annotations) bool {
		return !p.Match(a)
	})
}
