package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/collector"
	"github.com/stackwatch/crash-collector/internal/config"
	publishermemory "github.com/stackwatch/crash-collector/internal/publisher/memory"
	"github.com/stackwatch/crash-collector/internal/storage"
	storagememory "github.com/stackwatch/crash-collector/internal/storage/memory"
)

var crashIDRE = regexp.MustCompile(`^CrashID=bp-([0-9a-f-]{29}[0-9]{6}[01])\n$`)

func testConfig() config.Config {
	return config.Config{
		Host:            "127.0.0.1",
		Port:            0,
		BaseDir:         ".",
		ShutdownTimeout: 10 * time.Second,
		CrashMover: config.CrashMoverConfig{
			ConcurrentCrashmovers: 2,
			MaxQueueSize:          8,
			RetryBase:             time.Millisecond,
			MaxRetries:            5,
		},
		Breakpad: config.BreakpadConfig{
			ThrottlerRules:    "accept_all",
			ThrottlerProducts: "all",
			MaxCrashSize:      25 << 20,
		},
	}
}

func submitRequest(t *testing.T) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("ProductName", "Firefox"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.WriteField("Version", "1"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := writer.CreateFormFile("upload_file_minidump", "x.dmp")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("ABC")); err != nil {
		t.Fatalf("write dump: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/submit", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSubmitEndToEnd(t *testing.T) {
	t.Parallel()

	store := storagememory.New()
	publish := publishermemory.New()
	a, err := NewWithAdapters(testConfig(), zap.NewNop(), store, publish)
	if err != nil {
		t.Fatalf("NewWithAdapters() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, submitRequest(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	match := crashIDRE.FindStringSubmatch(rec.Body.String())
	if match == nil {
		t.Fatalf("body %q does not match crash id shape", rec.Body.String())
	}
	crashID := match[1]
	if !strings.HasSuffix(crashID, "0") {
		t.Fatalf("expected accept digit 0, got %s", crashID)
	}

	waitFor(t, 5*time.Second, func() bool {
		return len(publish.Published()) == 1
	})

	if body, ok := store.Object(storage.DumpPath(crashID, "upload_file_minidump")); !ok || string(body) != "ABC" {
		t.Fatalf("expected dump at v1/dump/%s, have %v", crashID, store.Paths())
	}

	names, ok := store.Object(storage.DumpNamesPath(crashID))
	if !ok {
		t.Fatal("missing dump_names object")
	}
	var index map[string]*string
	if err := json.Unmarshal(names, &index); err != nil {
		t.Fatalf("dump names not JSON: %v", err)
	}
	if index["upload_file_minidump"] == nil || *index["upload_file_minidump"] != "x.dmp" {
		t.Fatalf("dump names = %v", index)
	}

	if got := publish.Published(); len(got) != 1 || got[0] != crashID {
		t.Fatalf("published = %v", got)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestVerifyFailureBlocksStartup(t *testing.T) {
	t.Parallel()

	store := storagememory.New()
	store.FailVerify(errors.New("credentials revoked"))
	a, err := NewWithAdapters(testConfig(), zap.NewNop(), store, publishermemory.New())
	if err != nil {
		t.Fatalf("NewWithAdapters() error = %v", err)
	}

	if err := a.Verify(context.Background()); err == nil {
		t.Fatal("expected verification failure")
	} else if !strings.Contains(err.Error(), "crashstorage") {
		t.Fatalf("expected crashstorage in error, got %v", err)
	}
}

func TestVerifySucceeds(t *testing.T) {
	t.Parallel()

	a, err := NewWithAdapters(testConfig(), zap.NewNop(), storagememory.New(), publishermemory.New())
	if err != nil {
		t.Fatalf("NewWithAdapters() error = %v", err)
	}
	if err := a.Verify(context.Background()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestRunDrainsQueueOnShutdown(t *testing.T) {
	t.Parallel()

	store := storagememory.New()
	publish := publishermemory.New()
	a, err := NewWithAdapters(testConfig(), zap.NewNop(), store, publish)
	if err != nil {
		t.Fatalf("NewWithAdapters() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	const queued = 5
	for i := 0; i < queued; i++ {
		report := &collector.CrashReport{
			ID:          collector.CreateCrashID(time.Now().UTC(), collector.Accept),
			Annotations: collector.Annotations{"ProductName": "Firefox"},
			ReceivedAt:  time.Now().UTC(),
			PayloadKind: collector.PayloadMultipart,
			Verdict:     collector.Accept,
		}
		if err := a.Enqueue(context.Background(), report); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	if got := len(publish.Published()); got != queued {
		t.Fatalf("expected %d crashes published before exit, got %d", queued, got)
	}
}

// blockingStorage never completes a save until its context is canceled.
type blockingStorage struct{}

func (blockingStorage) Save(ctx context.Context, _ *collector.CrashReport) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStorage) Verify(context.Context) error { return nil }

func TestRunReportsDrainDeadlineExceeded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ShutdownTimeout = 200 * time.Millisecond
	cfg.CrashMover.ConcurrentCrashmovers = 1

	a, err := NewWithAdapters(cfg, zap.NewNop(), blockingStorage{}, publishermemory.New())
	if err != nil {
		t.Fatalf("NewWithAdapters() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	for i := 0; i < 3; i++ {
		report := &collector.CrashReport{
			ID:          collector.CreateCrashID(time.Now().UTC(), collector.Accept),
			Annotations: collector.Annotations{"ProductName": "Firefox"},
			ReceivedAt:  time.Now().UTC(),
			Verdict:     collector.Accept,
		}
		if err := a.Enqueue(context.Background(), report); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err == nil || !strings.Contains(err.Error(), "drain deadline exceeded") {
			t.Fatalf("expected drain deadline error, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after drain deadline")
	}
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}
