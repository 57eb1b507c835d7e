package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		Schedule: config.ScheduleConfig{IntervalMinutes: 15},
		HTTP:     config.HTTPConfig{TimeoutSeconds: 5, MaxRetries: 1},
	}
}

func TestNewBuildsSupervisorWithoutLLMKey(t *testing.T) {
	db := openTestStore(t)
	s, err := New(context.Background(), testConfig(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil supervisor")
	}
}

func TestEnqueueURLDropsWhenBacklogFull(t *testing.T) {
	db := openTestStore(t)
	s, err := New(context.Background(), testConfig(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < pendingCapacity+5; i++ {
		s.EnqueueURL(fmt.Sprintf("https://example.com/x%d", i))
	}
	if len(s.pending) != pendingCapacity {
		t.Fatalf("expected backlog capped at %d, got %d", pendingCapacity, len(s.pending))
	}
}

func TestEnqueueURLDeduplicatesPendingURL(t *testing.T) {
	db := openTestStore(t)
	s, err := New(context.Background(), testConfig(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.EnqueueURL("https://example.com/same-article")
	}
	if len(s.pending) != 1 {
		t.Fatalf("expected duplicate enqueues of the same url to collapse to 1, got %d", len(s.pending))
	}
}

func TestRunOnceDrainsIntakeAndGroupsArticle(t *testing.T) {
	db := openTestStore(t)
	s, err := New(context.Background(), testConfig(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Test Article</title></head>
			<body><article><p>Some body text about a cybersecurity incident.</p></article></body></html>`))
	}))
	defer ts.Close()

	s.EnqueueURL(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.IntakeAttempted != 1 || stats.IntakeFailed != 0 {
		t.Fatalf("expected 1 successful intake, got attempted=%d failed=%d", stats.IntakeAttempted, stats.IntakeFailed)
	}
	if len(stats.GroupingResults) != 1 {
		t.Fatalf("expected the fetched article to be grouped, got %d results", len(stats.GroupingResults))
	}
}
