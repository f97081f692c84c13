package crashmover

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/collector"
	"github.com/stackwatch/crash-collector/internal/metrics"
	publishermemory "github.com/stackwatch/crash-collector/internal/publisher/memory"
	queuememory "github.com/stackwatch/crash-collector/internal/queue/memory"
	"github.com/stackwatch/crash-collector/internal/storage"
	storagememory "github.com/stackwatch/crash-collector/internal/storage/memory"
)

const (
	acceptCrashID = "de1bb258-cbbf-4589-a673-34f812509180"
	deferCrashID  = "ab9f3c44-1e02-47d1-90cc-17ba82509181"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type moverFixture struct {
	queue     *queuememory.Queue
	storage   *storagememory.CrashStorage
	publisher *publishermemory.CrashPublish
	mover     *Mover
}

func newFixture(cfg Config) *moverFixture {
	queue := queuememory.New(8)
	store := storagememory.New()
	publish := publishermemory.New()
	clock := fixedClock{now: time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)}
	mover := New(queue, store, publish, clock, metrics.NewNop(), zap.NewNop(), cfg)
	return &moverFixture{queue: queue, storage: store, publisher: publish, mover: mover}
}

func newReport(id string, verdict collector.Verdict) *collector.CrashReport {
	return &collector.CrashReport{
		ID:          id,
		Annotations: collector.Annotations{"ProductName": "Firefox"},
		Dumps: collector.DumpSet{
			"upload_file_minidump": {Data: []byte("ABC"), Filename: "x.dmp"},
		},
		DumpChecksums: map[string]string{
			"upload_file_minidump": "b5d4045c3f466fa91fe2cc6abe79232a1a57cdf104f7a26e716e0a1e2789df78",
		},
		ReceivedAt:  time.Date(2025, 9, 18, 11, 59, 0, 0, time.UTC),
		PayloadKind: collector.PayloadMultipart,
		Verdict:     verdict,
	}
}

// runAndDrain enqueues the reports, runs the mover until the queue is
// closed, and returns once every worker exited.
func (f *moverFixture) runAndDrain(t *testing.T, reports ...*collector.CrashReport) {
	t.Helper()

	for _, report := range reports {
		if err := f.queue.Enqueue(context.Background(), report); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	f.queue.Close()

	done := make(chan struct{})
	go func() {
		f.mover.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mover did not drain the queue")
	}
}

func TestMoverSavesAndPublishesAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 2, RetryBase: time.Millisecond})
	f.runAndDrain(t, newReport(acceptCrashID, collector.Accept))

	if _, ok := f.storage.Object(storage.RawCrashPath(acceptCrashID)); !ok {
		t.Fatalf("expected raw crash stored, have %v", f.storage.Paths())
	}
	if body, ok := f.storage.Object(storage.DumpPath(acceptCrashID, "upload_file_minidump")); !ok || string(body) != "ABC" {
		t.Fatalf("expected dump stored at v1/dump, have %v", f.storage.Paths())
	}
	if got := f.publisher.Published(); len(got) != 1 || got[0] != acceptCrashID {
		t.Fatalf("expected one publish of %s, got %v", acceptCrashID, got)
	}
}

func TestMoverSavesWithoutPublishingDeferred(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 1, RetryBase: time.Millisecond})
	f.runAndDrain(t, newReport(deferCrashID, collector.Defer))

	if _, ok := f.storage.Object(storage.RawCrashPath(deferCrashID)); !ok {
		t.Fatal("expected deferred crash stored")
	}
	if got := f.publisher.PublishCalls(); got != 0 {
		t.Fatalf("expected no publish for deferred crash, got %d calls", got)
	}
}

func TestMoverDiscardsFakeAccept(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 1, RetryBase: time.Millisecond})
	f.runAndDrain(t, newReport(acceptCrashID, collector.FakeAccept))

	if calls := f.storage.SaveCalls(); calls != 0 {
		t.Fatalf("expected no save for fakeaccept, got %d", calls)
	}
	if calls := f.publisher.PublishCalls(); calls != 0 {
		t.Fatalf("expected no publish for fakeaccept, got %d", calls)
	}
}

func TestMoverRetriesTransientSave(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 1, RetryBase: time.Millisecond})
	f.storage.FailNextSaves(2, collector.Transient(errors.New("http 500")))
	f.runAndDrain(t, newReport(acceptCrashID, collector.Accept))

	if calls := f.storage.SaveCalls(); calls != 3 {
		t.Fatalf("expected 3 save attempts, got %d", calls)
	}

	raw, ok := f.storage.Object(storage.RawCrashPath(acceptCrashID))
	if !ok {
		t.Fatal("expected raw crash stored after retries")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("raw crash not JSON: %v", err)
	}
	notes, _ := doc["collector_notes"].([]any)
	if len(notes) != 2 || notes[0] != "save_retry:1" || notes[1] != "save_retry:2" {
		t.Fatalf("expected retry notes recorded, got %v", notes)
	}

	if got := f.publisher.Published(); len(got) != 1 {
		t.Fatalf("expected publish after retried save, got %v", got)
	}
}

func TestMoverDropsOnPermanentSaveError(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 1, RetryBase: time.Millisecond})
	f.storage.FailNextSaves(1, errors.New("access denied"))
	f.runAndDrain(t, newReport(acceptCrashID, collector.Accept))

	if calls := f.storage.SaveCalls(); calls != 1 {
		t.Fatalf("expected a single save attempt for a permanent error, got %d", calls)
	}
	if calls := f.publisher.PublishCalls(); calls != 0 {
		t.Fatalf("expected no publish after dropped save, got %d", calls)
	}
}

func TestMoverDropsAfterRetryExhaustion(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 1, MaxRetries: 2, RetryBase: time.Millisecond})
	f.storage.FailNextSaves(10, collector.Transient(errors.New("http 503")))
	f.runAndDrain(t, newReport(acceptCrashID, collector.Accept))

	if calls := f.storage.SaveCalls(); calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", calls)
	}
	if calls := f.publisher.PublishCalls(); calls != 0 {
		t.Fatalf("expected no publish after exhausted save, got %d", calls)
	}
}

func TestMoverKeepsSaveWhenPublishExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 1, MaxRetries: 1, RetryBase: time.Millisecond})
	f.publisher.FailNextPublishes(10, collector.Transient(errors.New("http 503")))
	f.runAndDrain(t, newReport(acceptCrashID, collector.Accept))

	if _, ok := f.storage.Object(storage.RawCrashPath(acceptCrashID)); !ok {
		t.Fatal("expected crash to stay saved when publish drops")
	}
	if got := f.publisher.Published(); len(got) != 0 {
		t.Fatalf("expected no successful publish, got %v", got)
	}
}

type panickyStorage struct{}

func (panickyStorage) Save(context.Context, *collector.CrashReport) error {
	panic("storage exploded")
}

func (panickyStorage) Verify(context.Context) error { return nil }

func TestMoverIsolatesWorkerPanics(t *testing.T) {
	t.Parallel()

	queue := queuememory.New(4)
	publish := publishermemory.New()
	clock := fixedClock{now: time.Now().UTC()}
	mover := New(queue, panickyStorage{}, publish, clock, metrics.NewNop(), zap.NewNop(),
		Config{Concurrency: 1, RetryBase: time.Millisecond})

	for _, id := range []string{acceptCrashID, deferCrashID} {
		if err := queue.Enqueue(context.Background(), newReport(id, collector.Accept)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	queue.Close()

	done := make(chan struct{})
	go func() {
		mover.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
		// Both crashes were attempted; the first panic did not kill the
		// worker before the second dequeue.
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestMoverStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Concurrency: 2, RetryBase: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.mover.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mover did not stop after context cancel")
	}
}
