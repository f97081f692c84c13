package collector

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRawCrashRequiredKeys(t *testing.T) {
	t.Parallel()

	report := &CrashReport{
		ID:          "de1bb258-cbbf-4589-a673-34f812509180",
		Annotations: Annotations{"ProductName": "Firefox", "Version": "1"},
		Dumps: DumpSet{
			"upload_file_minidump": {Data: []byte("ABC"), Filename: "x.dmp"},
		},
		DumpChecksums: map[string]string{
			"upload_file_minidump": "b5d4045c3f466fa91fe2cc6abe79232a1a57cdf104f7a26e716e0a1e2789df78",
		},
		ReceivedAt:        time.Date(2025, 9, 18, 11, 30, 0, 123456000, time.UTC),
		PayloadKind:       PayloadMultipart,
		PayloadCompressed: true,
		Verdict:           Accept,
		ThrottleRate:      100,
	}

	doc := report.RawCrash()

	for _, key := range []string{
		"uuid", "submitted_timestamp", "timestamp", "type_tag",
		"dump_checksums", "MinidumpSha256Hash", "payload", "payload_compressed",
		"collector_notes", "legacy_processing", "throttle_rate",
	} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("expected key %q in raw crash", key)
		}
	}

	if doc["uuid"] != report.ID {
		t.Fatalf("uuid = %v, want %s", doc["uuid"], report.ID)
	}
	if doc["type_tag"] != "bp" {
		t.Fatalf("type_tag = %v, want bp", doc["type_tag"])
	}
	if doc["payload"] != "multipart" {
		t.Fatalf("payload = %v, want multipart", doc["payload"])
	}
	if doc["payload_compressed"] != "1" {
		t.Fatalf("payload_compressed = %v, want 1", doc["payload_compressed"])
	}
	if doc["submitted_timestamp"] != "2025-09-18T11:30:00.123456+00:00" {
		t.Fatalf("submitted_timestamp = %v", doc["submitted_timestamp"])
	}
	if doc["MinidumpSha256Hash"] != report.DumpChecksums["upload_file_minidump"] {
		t.Fatalf("MinidumpSha256Hash = %v", doc["MinidumpSha256Hash"])
	}
}

func TestRawCrashMinidumpHashEmptyWhenAbsent(t *testing.T) {
	t.Parallel()

	report := &CrashReport{
		ID:          "de1bb258-cbbf-4589-a673-34f812509180",
		Annotations: Annotations{},
		ReceivedAt:  time.Now().UTC(),
		PayloadKind: PayloadJSON,
	}

	doc := report.RawCrash()
	if doc["MinidumpSha256Hash"] != "" {
		t.Fatalf("expected empty MinidumpSha256Hash, got %v", doc["MinidumpSha256Hash"])
	}
}

func TestRawCrashSerializesWithSortedKeys(t *testing.T) {
	t.Parallel()

	report := &CrashReport{
		ID:          "de1bb258-cbbf-4589-a673-34f812509180",
		Annotations: Annotations{"Zeta": "1", "Alpha": "2"},
		ReceivedAt:  time.Now().UTC(),
		PayloadKind: PayloadMultipart,
	}

	data, err := json.Marshal(report.RawCrash())
	if err != nil {
		t.Fatalf("marshal raw crash: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal raw crash: %v", err)
	}
	if round["Alpha"] != "2" || round["Zeta"] != "1" {
		t.Fatalf("annotations lost in round trip: %v", round)
	}
	if strings.Index(string(data), `"Alpha"`) > strings.Index(string(data), `"Zeta"`) {
		t.Fatalf("expected keys sorted, got %s", data)
	}
}

func TestVerdictString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		verdict Verdict
		want    string
	}{
		{Accept, "accept"},
		{Defer, "defer"},
		{Reject, "reject"},
		{FakeAccept, "fakeaccept"},
		{Continue, "continue"},
	}
	for _, tt := range tests {
		if got := tt.verdict.String(); got != tt.want {
			t.Fatalf("Verdict(%d).String() = %s, want %s", int(tt.verdict), got, tt.want)
		}
	}
}
