// Package throttler decides which crashes to accept (save and publish),
// defer (save only), or reject, based on an ordered rule set applied to the
// crash annotations.
package throttler

import (
	"fmt"
	"math/rand/v2"
	"regexp"

	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Result is the throttler's decision plus the rule that made it.
type Result struct {
	Verdict  collector.Verdict
	RuleName string
	// Rate is the sampling percentage for sampled rules, 100 otherwise, 0
	// when no rule matched.
	Rate int
}

// Rule is one entry in an ordered rule set. The first matching rule decides
// the result, except when its verdict is Continue, in which case evaluation
// proceeds to the next rule.
type Rule struct {
	// Name identifies the rule in logs and metrics. Names are restricted to
	// [a-z0-9_].
	Name string
	// Predicate decides whether the rule applies to the annotations.
	Predicate Predicate
	// Verdict is the decision when the rule matches and Rate is 100.
	Verdict collector.Verdict
	// Rate samples the verdict: a random percentage at or below Rate yields
	// Verdict, above it yields Else. Rate 100 disables sampling.
	Rate int
	// Else is the sampled-out verdict; only meaningful when Rate < 100.
	Else collector.Verdict
}

var ruleNameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

func (r Rule) validate() error {
	if !ruleNameRE.MatchString(r.Name) {
		return fmt.Errorf("invalid rule name %q", r.Name)
	}
	if r.Predicate == nil {
		return fmt.Errorf("rule %s has no predicate", r.Name)
	}
	if r.Rate < 0 || r.Rate > 100 {
		return fmt.Errorf("rule %s has rate %d out of range", r.Name, r.Rate)
	}
	return nil
}

// Throttler applies an ordered rule set to crash annotations.
type Throttler struct {
	rules  []Rule
	logger *zap.Logger
	// percentile returns a sampling draw in [0, 100); swapped in tests.
	percentile func() float64
}

// New builds a Throttler from a named rule set in the registry. The products
// list feeds the unsupported-product gate; nil or empty disables it.
func New(ruleSet string, products []string, logger *zap.Logger) (*Throttler, error) {
	rules, err := RuleSet(ruleSet, products)
	if err != nil {
		return nil, err
	}
	return NewWithRules(rules, logger)
}

// NewWithRules builds a Throttler from an explicit rule list.
func NewWithRules(rules []Rule, logger *zap.Logger) (*Throttler, error) {
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttler{
		rules:      rules,
		logger:     logger,
		percentile: func() float64 { return rand.Float64() * 100 },
	}, nil
}

// Throttle walks the rule set in order and returns the first decisive
// result. If no rule matches, the crash is rejected with rule name
// "no_match".
func (t *Throttler) Throttle(annotations collector.Annotations) Result {
	// Client-signalled bypass: Throttleable=0 short-circuits everything.
	if annotations[collector.AnnThrottleable] == "0" {
		return Result{Verdict: collector.Accept, RuleName: "has_throttleable_0", Rate: 100}
	}

	for _, rule := range t.rules {
		if !rule.Predicate.Match(annotations) {
			continue
		}
		if rule.Rate >= 100 {
			if rule.Verdict == collector.Continue {
				continue
			}
			return Result{Verdict: rule.Verdict, RuleName: rule.Name, Rate: 100}
		}

		verdict := rule.Else
		if t.percentile() <= float64(rule.Rate) {
			verdict = rule.Verdict
		}
		if verdict == collector.Continue {
			continue
		}
		return Result{Verdict: verdict, RuleName: rule.Name, Rate: rule.Rate}
	}

	t.logger.Debug("no throttle rule matched",
		zap.String("product", annotations[collector.AnnProductName]))
	return Result{Verdict: collector.Reject, RuleName: "no_match", Rate: 0}
}
