package perftrack

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/forgehq/forge/internal/models"
)

func TestTrackerRecordAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diff-metrics.jsonl")
	tracker, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tracker.Close()

	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	tracker.Record(models.DiffMetric{Timestamp: base, Strategy: models.StrategyRemote, Success: true, ExecutionTimeMs: 100, FileSizeBytes: 200})
	tracker.Record(models.DiffMetric{Timestamp: base.Add(time.Minute), Strategy: models.StrategyLocal, Success: false, FallbackUsed: true, ExecutionTimeMs: 50, FileSizeBytes: 80})

	all, err := tracker.Query(time.Time{}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	recent, err := tracker.Query(base.Add(30*time.Second), 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recent) != 1 || recent[0].Strategy != models.StrategyLocal {
		t.Fatalf("expected only the second record since the cutoff, got %+v", recent)
	}
}

func TestTrackerQueryCapsAtMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diff-metrics.jsonl")
	tracker, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tracker.Close()

	for i := 0; i < 5; i++ {
		tracker.Record(models.DiffMetric{Timestamp: time.Now(), Strategy: models.StrategyLocal, Success: true})
	}

	capped, err := tracker.Query(time.Time{}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected max to cap results at 2, got %d", len(capped))
	}
}

func TestReportGroupsByStrategyWithExpectedStats(t *testing.T) {
	now := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	metrics := []models.DiffMetric{
		{Strategy: models.StrategyRemote, Success: true, ExecutionTimeMs: 100, FileSizeBytes: 200},
		{Strategy: models.StrategyRemote, Success: false, ExecutionTimeMs: 300, FileSizeBytes: 400, FallbackUsed: true},
		{Strategy: models.StrategyLocal, Success: true, ExecutionTimeMs: 50, FileSizeBytes: 80},
	}

	report := buildReport(metrics, now, time.Hour)
	remote := report.ByStrategy[models.StrategyRemote]
	if remote.Count != 2 {
		t.Fatalf("expected 2 remote records, got %d", remote.Count)
	}
	if remote.SuccessRate != 0.5 {
		t.Fatalf("expected 50%% success rate, got %v", remote.SuccessRate)
	}
	if remote.FallbackRate != 0.5 {
		t.Fatalf("expected 50%% fallback rate, got %v", remote.FallbackRate)
	}
	if remote.MeanExecTimeMs != 200 {
		t.Fatalf("expected mean exec time 200ms, got %v", remote.MeanExecTimeMs)
	}
	if remote.MedianExecTimeMs != 200 {
		t.Fatalf("expected median exec time 200ms for an even count, got %v", remote.MedianExecTimeMs)
	}

	local := report.ByStrategy[models.StrategyLocal]
	if local.Count != 1 || local.SuccessRate != 1 {
		t.Fatalf("unexpected local report: %+v", local)
	}
}

func TestPrometheusMirrorApplyDoesNotPanic(t *testing.T) {
	mirror := NewPrometheusMirror()
	report := buildReport([]models.DiffMetric{
		{Strategy: models.StrategyRemote, Success: true, ExecutionTimeMs: 10, FileSizeBytes: 20},
	}, time.Now(), time.Hour)
	mirror.Apply(report)

	metricFamilies, err := mirror.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}
