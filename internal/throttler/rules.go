package throttler

import (
	"fmt"
	"strings"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Rule set names accepted by the registry.
const (
	RuleSetAcceptAll = "accept_all"
	RuleSetMozilla   = "mozilla"
)

// MozillaProducts is the default supported-products list; incoming
// ProductName values must match one of these or the crash is rejected.
var MozillaProducts = []string{
	"Firefox",
	"Fennec",
	"FirefoxReality",
	"Focus",
	"GeckoViewExample",
	"ReferenceBrowser",
	"Thunderbird",
	"SeaMonkey",
}

// RuleSet returns the named compiled-in rule set. Rule sets are
// configuration selected by name, never loaded code.
func RuleSet(name string, products []string) ([]Rule, error) {
	switch name {
	case RuleSetAcceptAll:
		return acceptAllRules(), nil
	case RuleSetMozilla:
		return mozillaRules(products), nil
	}
	return nil, fmt.Errorf("unknown throttler rule set %q", name)
}

func acceptAllRules() []Rule {
	return []Rule{
		{Name: "accept_everything", Predicate: Always(), Verdict: collector.Accept, Rate: 100},
	}
}

func mozillaRules(products []string) []Rule {
	return []Rule{
		// Reject the browser side of multi-submission hang crashes.
		{
			Name: "has_hangid_and_browser",
			Predicate: And(
				Has("HangID"),
				PredicateFunc(func(a collector.Annotations) bool {
					proc, ok := a["ProcessType"]
					return !ok || proc == "browser"
				}),
			),
			Verdict: collector.Reject,
			Rate:    100,
		},

		// Reject infobar=true crashes from the affected desktop versions.
		{
			Name:      "infobar_is_true",
			Predicate: PredicateFunc(matchInfobarTrue),
			Verdict:   collector.Reject,
			Rate:      100,
		},

		// Fake-accept b2g: the client retries rejections forever, so hand it
		// a crash id and drop the report.
		{
			Name: "b2g",
			Predicate: PredicateFunc(func(a collector.Annotations) bool {
				return strings.EqualFold(a[collector.AnnProductName], "b2g")
			}),
			Verdict: collector.FakeAccept,
			Rate:    100,
		},

		// Reject products not in the supported list; an empty list disables
		// the gate.
		{
			Name:      "unsupported_product",
			Predicate: unsupportedProduct(products),
			Verdict:   collector.Reject,
			Rate:      100,
		},

		// Accept crash reports submitted through about:crashes.
		{Name: "throttleable_0", Predicate: Eq(collector.AnnThrottleable, "0"), Verdict: collector.Accept, Rate: 100},

		// Accept crash reports that have a comment.
		{Name: "has_comments", Predicate: Has("Comments"), Verdict: collector.Accept, Rate: 100},

		// Accept crash reports that have an email address with at least an @.
		{
			Name: "has_email",
			Predicate: PredicateFunc(func(a collector.Annotations) bool {
				email := a["Email"]
				return email != "" && strings.Contains(email, "@")
			}),
			Verdict: collector.Accept,
			Rate:    100,
		},

		// Accept the pre-release channels.
		{
			Name:      "is_alpha_beta_esr",
			Predicate: In(collector.AnnReleaseChannel, "aurora", "beta", "esr"),
			Verdict:   collector.Accept,
			Rate:      100,
		},
		{
			Name:      "is_nightly",
			Predicate: HasPrefix(collector.AnnReleaseChannel, "nightly"),
			Verdict:   collector.Accept,
			Rate:      100,
		},

		// Sample Firefox desktop release: accept 10%, reject the rest.
		{
			Name: "is_firefox_desktop",
			Predicate: And(
				Eq(collector.AnnProductName, "Firefox"),
				Eq(collector.AnnReleaseChannel, "release"),
			),
			Verdict: collector.Accept,
			Rate:    10,
			Else:    collector.Reject,
		},

		{Name: "accept_everything", Predicate: Always(), Verdict: collector.Accept, Rate: 100},
	}
}

func unsupportedProduct(products []string) Predicate {
	if len(products) == 0 {
		return PredicateFunc(func(collector.Annotations) bool { return false })
	}
	supported := make(map[string]struct{}, len(products))
	for _, p := range products {
		supported[p] = struct{}{}
	}
	return PredicateFunc(func(a collector.Annotations) bool {
		_, ok := supported[a[collector.AnnProductName]]
		return !ok
	})
}

func matchInfobarTrue(a collector.Annotations) bool {
	product := a[collector.AnnProductName]
	infobar := a["SubmittedFromInfobar"]
	version := a[collector.AnnVersion]
	buildID := a[collector.AnnBuildID]

	if product == "" || infobar == "" || version == "" || buildID == "" {
		return false
	}

	affected := false
	for _, prefix := range []string{"52.", "53.", "54.", "55.", "56.", "57.", "58.", "59."} {
		if strings.HasPrefix(version, prefix) {
			affected = true
			break
		}
	}

	return product == "Firefox" && infobar == "true" && affected && buildID < "20171226"
}
