// Package storage defines the canonical object layout for saved crashes and
// shared helpers for the storage adapter variants.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Object is one blob to write for a crash report.
type Object struct {
	Path        string
	Body        []byte
	ContentType string
}

// RawCrashPath returns the raw annotations object path:
// v2/raw_crash/ENTROPY/YYYYMMDD/ID, where ENTROPY is the first three
// characters of the crash id and the date comes from the id itself.
func RawCrashPath(crashID string) string {
	return fmt.Sprintf("v2/raw_crash/%s/%s/%s",
		crashID[:3], collector.DateFromCrashID(crashID), crashID)
}

// DumpNamesPath returns the dump index object path.
func DumpNamesPath(crashID string) string {
	return "v1/dump_names/" + crashID
}

// DumpPath returns the object path for a single dump. The conventional
// upload_file_minidump name is rewritten to "dump".
func DumpPath(crashID, dumpName string) string {
	if dumpName == "" || dumpName == collector.MinidumpName {
		dumpName = "dump"
	}
	return fmt.Sprintf("v1/%s/%s", dumpName, crashID)
}

// Objects returns the full object set for a crash report: the raw crash
// JSON, the dump-names index, and each dump's raw bytes. All of them must be
// written for a save to count.
func Objects(report *collector.CrashReport) ([]Object, error) {
	rawCrash, err := json.Marshal(report.RawCrash())
	if err != nil {
		return nil, fmt.Errorf("encode raw crash: %w", err)
	}

	dumpNames := make(map[string]*string, len(report.Dumps))
	for name, dump := range report.Dumps {
		if dump.Filename == "" {
			dumpNames[name] = nil
			continue
		}
		filename := dump.Filename
		dumpNames[name] = &filename
	}
	dumpNamesBody, err := json.Marshal(dumpNames)
	if err != nil {
		return nil, fmt.Errorf("encode dump names: %w", err)
	}

	objects := []Object{
		{Path: RawCrashPath(report.ID), Body: rawCrash, ContentType: "application/json"},
		{Path: DumpNamesPath(report.ID), Body: dumpNamesBody, ContentType: "application/json"},
	}
	for name, dump := range report.Dumps {
		objects = append(objects, Object{
			Path:        DumpPath(report.ID, name),
			Body:        dump.Data,
			ContentType: "application/octet-stream",
		})
	}
	return objects, nil
}

// VerifyPath returns a scratch object path for startup verification. The
// adapter writes and removes it to prove write capability without leaving
// garbage.
func VerifyPath(token string) string {
	return "test/testfile-" + token + ".txt"
}
