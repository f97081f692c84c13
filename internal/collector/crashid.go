package collector

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Crash ids have the following format:
//
//	de1bb258-cbbf-4589-a673-34f812509180
//	                        ^^^^^|____|^
//	                        |    yymmdd|
//	                        |          verdict digit
//	                        5 hex chars
//
// The first 29 characters are random; the last seven encode the collection
// date and the throttle verdict. The verdict digit is 0 for accept (save and
// publish) and 1 for defer (save only). A consumer holding only the id can
// recover both without reading the stored object.
const crashIDLen = 36

var crashIDRE = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{5}` +
		`[0-9]{2}(0[1-9]|1[0-2])(0[1-9]|[12][0-9]|3[01])[0-9]$`,
)

// CreateCrashID generates a crash id encoding the given date and verdict.
// Uniqueness rests on the randomness of the prefix; no collision check is
// performed.
func CreateCrashID(ts time.Time, verdict Verdict) string {
	ts = ts.UTC()
	base := uuid.New().String()
	return fmt.Sprintf("%s%02d%02d%02d%d",
		base[:crashIDLen-7],
		ts.Year()%100,
		int(ts.Month()),
		ts.Day(),
		verdictDigit(verdict),
	)
}

func verdictDigit(v Verdict) int {
	// FakeAccept pretends to be an accept; everything else that reaches id
	// generation is save-only.
	if v == Accept || v == FakeAccept {
		return 0
	}
	return 1
}

// ValidCrashID reports whether id has the crash id shape. With strict set,
// the verdict digit must be 0 or 1.
func ValidCrashID(id string, strict bool) bool {
	if len(id) != crashIDLen || !crashIDRE.MatchString(id) {
		return false
	}
	if strict && id[crashIDLen-1] != '0' && id[crashIDLen-1] != '1' {
		return false
	}
	return true
}

// VerdictFromCrashID returns the verdict encoded in the trailing digit.
func VerdictFromCrashID(id string) Verdict {
	if id[crashIDLen-1] == '0' {
		return Accept
	}
	return Defer
}

// DateFromCrashID returns the encoded collection date as YYYYMMDD.
func DateFromCrashID(id string) string {
	return "20" + id[crashIDLen-7:crashIDLen-1]
}

// RewriteCrashID stamps the collector's date and verdict over the tail of a
// client-supplied id. The client cannot dictate routing.
func RewriteCrashID(id string, ts time.Time, verdict Verdict) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%02d%02d%02d%d",
		id[:crashIDLen-7],
		ts.Year()%100,
		int(ts.Month()),
		ts.Day(),
		verdictDigit(verdict),
	)
}
