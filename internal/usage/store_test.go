package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []Record{
		{Timestamp: now, TurnID: "turn-1", CallID: "call_a", Tool: "create_project", Status: "ok", DurationMs: 120},
		{Timestamp: now, TurnID: "turn-1", CallID: "call_b", Tool: "create_task", Status: "error", ErrorKind: "invalid_argument", DurationMs: 1},
		{Timestamp: now, TurnID: "turn-2", CallID: "call_c", Tool: "create_task", Status: "ok", DurationMs: 80},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", sum.TotalCalls)
	}
	if sum.Errors != 1 {
		t.Errorf("Errors = %d, want 1", sum.Errors)
	}
	if sum.TotalDurationMs != 201 {
		t.Errorf("TotalDurationMs = %d, want 201", sum.TotalDurationMs)
	}
}

func TestSummary_TimeRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.Record(ctx, Record{Timestamp: now.Add(-2 * time.Hour), TurnID: "old", Tool: "create_project", Status: "ok"})
	s.Record(ctx, Record{Timestamp: now, TurnID: "new", Tool: "create_project", Status: "ok"})

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1", sum.TotalCalls)
	}
}

func TestSummaryByTool(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, tool := range []string{"create_task", "create_task", "github_search_code"} {
		if err := s.Record(ctx, Record{Timestamp: now, TurnID: "t", Tool: tool, Status: "ok", DurationMs: 10}); err != nil {
			t.Fatal(err)
		}
	}

	byTool, err := s.SummaryByTool(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByTool: %v", err)
	}
	if len(byTool) != 2 {
		t.Fatalf("len = %d, want 2", len(byTool))
	}
	if byTool["create_task"].TotalCalls != 2 {
		t.Errorf("create_task calls = %d, want 2", byTool["create_task"].TotalCalls)
	}
	if byTool["github_search_code"].TotalDurationMs != 10 {
		t.Errorf("github_search_code duration = %d, want 10", byTool["github_search_code"].TotalDurationMs)
	}
}

func TestSummaryByStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.Record(ctx, Record{Timestamp: now, TurnID: "t", Tool: "github_search_code", Status: "ok"})
	s.Record(ctx, Record{Timestamp: now, TurnID: "t", Tool: "github_search_code", Status: "rate_limited"})

	byStatus, err := s.SummaryByStatus(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByStatus: %v", err)
	}
	if byStatus["rate_limited"] == nil || byStatus["rate_limited"].Errors != 1 {
		t.Errorf("rate_limited = %+v", byStatus["rate_limited"])
	}
}

func TestTurnRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, call := range []string{"call_1", "call_2"} {
		if err := s.Record(ctx, Record{TurnID: "turn-x", ThreadID: "th_1", CallID: call, Tool: "create_task", Status: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	s.Record(ctx, Record{TurnID: "turn-y", Tool: "create_task", Status: "ok"})

	recs, err := s.TurnRecords(ctx, "turn-x")
	if err != nil {
		t.Fatalf("TurnRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].CallID != "call_1" || recs[1].CallID != "call_2" {
		t.Errorf("order = %s, %s", recs[0].CallID, recs[1].CallID)
	}
	if recs[0].ThreadID != "th_1" || recs[0].Timestamp.IsZero() {
		t.Errorf("rec = %+v", recs[0])
	}
}

func TestRecord_GeneratesID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Record{TurnID: "t", Tool: "create_project", Status: "ok"}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.TurnRecords(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].ID) != 36 {
		t.Errorf("records = %+v", recs)
	}
}

func TestNewStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Record(ctx, Record{TurnID: "t", Tool: "create_project", Status: "ok"})
	s.Close()

	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	recs, _ := s2.TurnRecords(ctx, "t")
	if len(recs) != 1 {
		t.Errorf("len = %d after reopen, want 1", len(recs))
	}
}
