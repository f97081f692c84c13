// Package collector defines core types shared across subsystems.
package collector

import (
	"fmt"
	"time"
)

// Verdict is the throttler's decision for a crash report.
type Verdict int

// Verdict values. Accept and Defer are encoded into the crash id; the
// ordinals for Accept/Defer/Reject/FakeAccept match the values recorded in
// the legacy_processing annotation.
const (
	Accept     Verdict = 0 // save and publish
	Defer      Verdict = 1 // save but don't publish
	Reject     Verdict = 2 // throw the crash away
	FakeAccept Verdict = 3 // return a crash id as if accepted, then throw away
	Continue   Verdict = 4 // rule abstains; evaluation moves to the next rule
)

// String returns the verdict name used in logs and metrics.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Defer:
		return "defer"
	case Reject:
		return "reject"
	case FakeAccept:
		return "fakeaccept"
	case Continue:
		return "continue"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// PayloadKind records which multipart shape the annotations came from.
type PayloadKind string

// Payload kinds.
const (
	PayloadMultipart PayloadKind = "multipart"
	PayloadJSON      PayloadKind = "json"
)

// Annotations maps annotation name to string value. Names are unique;
// insertion order is not significant.
type Annotations map[string]string

// Reserved annotation names with semantic meaning to the collector.
const (
	AnnProductName        = "ProductName"
	AnnVersion            = "Version"
	AnnReleaseChannel     = "ReleaseChannel"
	AnnBuildID            = "BuildID"
	AnnThrottleable       = "Throttleable"
	AnnUUID               = "uuid"
	AnnLegacyProcessing   = "legacy_processing"
	AnnThrottleRate       = "throttle_rate"
	AnnMinidumpSha256     = "MinidumpSha256Hash"
	AnnSubmittedTimestamp = "submitted_timestamp"
)

// MinidumpName is the conventional name of the main minidump part.
const MinidumpName = "upload_file_minidump"

// Dump is one binary part of a crash submission.
type Dump struct {
	Data []byte
	// Filename is the client-supplied filename of the part, or "" if the
	// part carried none. It is recorded in the dump_names object.
	Filename string
}

// DumpSet maps dump name to its binary payload.
type DumpSet map[string]Dump

// CrashReport is the in-memory aggregate passed through the pipeline. It is
// owned exclusively by the submit handler until enqueued, then by exactly
// one crash-mover worker until terminal success or drop.
type CrashReport struct {
	ID            string
	Annotations   Annotations
	Dumps         DumpSet
	DumpChecksums map[string]string

	ReceivedAt        time.Time
	PayloadKind       PayloadKind
	PayloadCompressed bool

	Verdict      Verdict
	RuleName     string
	ThrottleRate int

	// Notes records collector actions (fields dropped, limits hit, retry
	// attempts) in order.
	Notes []string
}

// AddNote appends a short note recording a collector action.
func (r *CrashReport) AddNote(note string) {
	r.Notes = append(r.Notes, note)
}

// RawCrash builds the JSON-serialisable raw crash document. Client
// annotations are string-valued; collector bookkeeping fields keep their
// native types, matching the stored object schema.
func (r *CrashReport) RawCrash() map[string]any {
	doc := make(map[string]any, len(r.Annotations)+10)
	for k, v := range r.Annotations {
		doc[k] = v
	}

	doc[AnnUUID] = r.ID
	doc[AnnSubmittedTimestamp] = r.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000000+00:00")
	doc["timestamp"] = float64(r.ReceivedAt.UnixMicro()) / 1e6
	doc["type_tag"] = "bp"
	doc["payload"] = string(r.PayloadKind)
	if r.PayloadCompressed {
		doc["payload_compressed"] = "1"
	} else {
		doc["payload_compressed"] = "0"
	}

	checksums := r.DumpChecksums
	if checksums == nil {
		checksums = map[string]string{}
	}
	doc["dump_checksums"] = checksums
	doc[AnnMinidumpSha256] = checksums[MinidumpName]

	notes := r.Notes
	if notes == nil {
		notes = []string{}
	}
	doc["collector_notes"] = notes

	doc[AnnLegacyProcessing] = int(r.Verdict)
	doc[AnnThrottleRate] = r.ThrottleRate

	return doc
}
