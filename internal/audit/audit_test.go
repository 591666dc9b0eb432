package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opentalon/geminicog/pkg/cog"
)

var fixedNow = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

func sampleResponse() *cog.RunStepResponse {
	return &cog.RunStepResponse{
		Outcome:       cog.OutcomeFailed,
		MessageFormat: "Expected %s to be %s",
		MessageArgs:   []any{"count", "3"},
		Records: []*cog.StepRecord{
			{ID: "completion", KeyValue: map[string]any{"model": "gemini-pro", "word count": 2}},
			{ID: "rows", Table: &cog.TableRecord{
				Headers: map[string]string{"name": "Name", "score": "Score"},
				Rows: []map[string]any{
					{"name": "a", "score": 1},
					{"name": "b", "score": 2},
				},
			}},
		},
	}
}

func TestFlatten(t *testing.T) {
	rec := Flatten("CompletionWordCount", sampleResponse(), fixedNow)
	if rec.ID == "" {
		t.Error("expected a record id")
	}
	if rec.Outcome != "FAILED" || rec.Message != "Expected count to be 3" || rec.StepID != "CompletionWordCount" {
		t.Errorf("envelope = %+v", rec)
	}
	if rec.Fields["model"] != "gemini-pro" || rec.Fields["word count"] != 2 {
		t.Errorf("key-value fields = %v", rec.Fields)
	}
	names, ok := rec.Fields["name"].([]any)
	if !ok || len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("name column = %v", rec.Fields["name"])
	}
	if !rec.Created.Equal(fixedNow) {
		t.Errorf("Created = %v", rec.Created)
	}
}

func TestFlattenNil(t *testing.T) {
	rec := Flatten("x", nil, fixedNow)
	if rec.Outcome != "" || len(rec.Fields) != 0 {
		t.Errorf("rec = %+v", rec)
	}
}

func TestDocumentFieldsWin(t *testing.T) {
	rec := Record{ID: "1", Outcome: "PASSED", Fields: map[string]any{"outcome": "custom"}}
	if got := rec.Document()["outcome"]; got != "custom" {
		t.Errorf("outcome = %v", got)
	}
}

type memSink struct {
	mu      sync.Mutex
	records []Record
	err     error
	started chan struct{}
	release chan struct{}
	closed  bool
}

func (s *memSink) Write(_ context.Context, r Record) error {
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestExporterWritesAndDrains(t *testing.T) {
	sink := &memSink{}
	e := NewExporter(sink, Options{Workers: 2, Now: func() time.Time { return fixedNow }})
	for i := 0; i < 10; i++ {
		e.Export("CompletionWordCount", sampleResponse())
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 10 {
		t.Errorf("wrote %d records, want 10", sink.count())
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
	// Exports after Close are dropped, not panics.
	e.Export("late", sampleResponse())
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestExporterDropsWhenFull(t *testing.T) {
	sink := &memSink{started: make(chan struct{}), release: make(chan struct{})}
	e := NewExporter(sink, Options{Workers: 1, QueueSize: 1})

	e.Export("first", sampleResponse())
	<-sink.started // worker is now blocked inside Write
	e.Export("second", sampleResponse())
	e.Export("third", sampleResponse())

	go func() {
		for range sink.started {
		}
	}()
	close(sink.release)
	if err := e.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(sink.started)
	if sink.count() != 2 {
		t.Errorf("wrote %d records, want 2", sink.count())
	}
}

func TestExporterSwallowsSinkErrors(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	e := NewExporter(sink, Options{})
	e.Export("x", sampleResponse())
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type slowSink struct {
	mu                sync.Mutex
	delay             time.Duration
	closed            bool
	writes            int
	writesAfterClosed int
}

func (s *slowSink) Write(context.Context, Record) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.closed {
		s.writesAfterClosed++
	}
	return nil
}

func (s *slowSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func TestExporterCloseTimeoutWaitsForWorkers(t *testing.T) {
	sink := &slowSink{delay: 200 * time.Millisecond}
	e := NewExporter(sink, Options{Workers: 1})
	for i := 0; i < 3; i++ {
		e.Export("CompletionWordCount", sampleResponse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err = %v, want deadline exceeded", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Error("sink not closed")
	}
	if sink.writesAfterClosed != 0 {
		t.Errorf("%d writes after sink Close", sink.writesAfterClosed)
	}
	if sink.writes > 1 {
		t.Errorf("writes = %d, want at most the one in flight", sink.writes)
	}
}

type panicSink struct{ memSink }

func (s *panicSink) Write(context.Context, Record) error { panic("boom") }

func TestExporterRecoversSinkPanics(t *testing.T) {
	e := NewExporter(&panicSink{}, Options{Workers: 1})
	e.Export("x", sampleResponse())
	e.Export("y", sampleResponse())
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSQLiteSink(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	v, err := s.Version()
	if err != nil || v != 2 {
		t.Fatalf("Version = %d, %v; want 2", v, err)
	}

	ctx := context.Background()
	old := Flatten("CompletionWordCount", sampleResponse(), fixedNow.Add(-48*time.Hour))
	fresh := Flatten("CompletionWordCount", sampleResponse(), fixedNow)
	for _, r := range []Record{old, fresh} {
		if err := s.Write(ctx, r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got, err := s.Recent(ctx, "CompletionWordCount", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != fresh.ID {
		t.Fatalf("Recent = %+v", got)
	}
	if got[0].Fields["model"] != "gemini-pro" || got[0].Outcome != "FAILED" {
		t.Errorf("record = %+v", got[0])
	}

	n, err := s.Prune(ctx, fixedNow.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	got, _ = s.Recent(ctx, "CompletionWordCount", 10)
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Errorf("after prune = %+v", got)
	}
}

func TestSQLiteReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	s, err = OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, _ := s.Version(); v != 2 {
		t.Errorf("Version = %d", v)
	}
}

func TestRebind(t *testing.T) {
	s := &SQLSink{driver: DriverPostgres}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	s.driver = DriverSQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind = %q", got)
	}
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s, err := OpenRedis(ctx, "redis://"+mr.Addr(), "audit", 2)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer s.Close()

	var last Record
	for i := 0; i < 3; i++ {
		last = Flatten("CompletionWordCount", sampleResponse(), fixedNow)
		if err := s.Write(ctx, last); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	msgs, err := rdb.XRange(ctx, "audit", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stream length = %d, want 2", len(msgs))
	}
	v := msgs[1].Values
	if v["id"] != last.ID || v["outcome"] != "FAILED" || !strings.Contains(v["fields"].(string), "gemini-pro") {
		t.Errorf("values = %v", v)
	}
}

func TestOpenRedisBadURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url", "", 0); err == nil {
		t.Fatal("expected error")
	}
}

type fakeUploader struct {
	container, name string
	body            []byte
}

func (f *fakeUploader) UploadBuffer(_ context.Context, container, name string, buf []byte, _ *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.container, f.name, f.body = container, name, buf
	return azblob.UploadBufferResponse{}, nil
}

func TestBlobSink(t *testing.T) {
	up := &fakeUploader{}
	s := &BlobSink{client: up, container: DefaultContainer}
	rec := Flatten("CompletionWordCount", sampleResponse(), fixedNow)
	if err := s.Write(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if up.container != "gemini-cog-logs" || up.name != "2024/05/17/"+rec.ID+".json" {
		t.Errorf("uploaded %s/%s", up.container, up.name)
	}
	if !strings.Contains(string(up.body), `"word count":2`) || !strings.Contains(string(up.body), `"outcome":"FAILED"`) {
		t.Errorf("body = %s", up.body)
	}
}

type fakePruner struct {
	before time.Time
	n      int64
	err    error
}

func (p *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func TestRetentionRun(t *testing.T) {
	p := &fakePruner{n: 3}
	r, err := NewRetention(p, "@daily", 7*24*time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.now = func() time.Time { return fixedNow }
	if n := r.Run(context.Background()); n != 3 {
		t.Errorf("Run = %d", n)
	}
	if want := fixedNow.Add(-7 * 24 * time.Hour); !p.before.Equal(want) {
		t.Errorf("before = %v, want %v", p.before, want)
	}

	p.err = errors.New("locked")
	if n := r.Run(context.Background()); n != 0 {
		t.Errorf("Run on error = %d", n)
	}
	r.Start()
	r.Stop()
}

func TestNewRetentionErrors(t *testing.T) {
	if _, err := NewRetention(&fakePruner{}, "not a schedule", time.Hour, nil); err == nil {
		t.Error("expected schedule error")
	}
	if _, err := NewRetention(&fakePruner{}, "@daily", 0, nil); err == nil {
		t.Error("expected max age error")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), SinkConfig{Kind: SinkNone})
	if err != nil || s != nil {
		t.Errorf("none = %v, %v", s, err)
	}
	if _, err := Open(context.Background(), SinkConfig{Kind: "kafka"}); err == nil {
		t.Error("expected unknown sink error")
	}
	s, err = Open(context.Background(), SinkConfig{Kind: SinkSQLite, DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(Pruner); !ok {
		t.Error("sqlite sink should prune")
	}
}
