package health

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func testChecker(staleAfter time.Duration) (*Checker, *time.Time) {
	c := NewChecker("test", staleAfter)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestHealthyWhenAllFresh(t *testing.T) {
	c, now := testChecker(time.Hour)
	c.RecordSuccess("notification_feed", now.Add(-time.Minute))
	c.RecordSuccess("usage_journal", now.Add(-10*time.Minute))

	report := c.Report()
	if report.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy", report.Status)
	}
}

func TestDegradedWhenOneSourceStale(t *testing.T) {
	c, now := testChecker(time.Hour)
	c.RecordSuccess("notification_feed", now.Add(-time.Minute))
	c.RecordSuccess("usage_journal", now.Add(-2*time.Hour))

	report := c.Report()
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if !report.Sources["usage_journal"].Stale {
		t.Fatal("usage_journal should be stale")
	}
	if report.Sources["notification_feed"].Stale {
		t.Fatal("notification_feed should be fresh")
	}
}

func TestUnhealthyWhenAllStale(t *testing.T) {
	c, now := testChecker(time.Hour)
	c.RecordSuccess("notification_feed", now.Add(-3*time.Hour))
	c.RecordSuccess("usage_journal", now.Add(-2*time.Hour))

	if got := c.Report().Status; got != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", got)
	}
}

func TestErrorDegradesAndSuccessClears(t *testing.T) {
	c, now := testChecker(time.Hour)
	c.RecordSuccess("notification_feed", now.Add(-time.Minute))
	c.RecordError("notification_feed", errors.New("ledger unavailable"))

	report := c.Report()
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.Sources["notification_feed"].LastError == "" {
		t.Fatal("error should be reported")
	}

	c.RecordSuccess("notification_feed", *now)
	if got := c.Report().Status; got != StatusHealthy {
		t.Fatalf("status after recovery = %s, want healthy", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	c, now := testChecker(time.Hour)
	c.RecordSuccess("usage_journal", now.Add(-2*time.Hour))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 503 {
		t.Fatalf("status code = %d, want 503 for unhealthy", rec.Code)
	}

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", report.Status)
	}

	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
}
