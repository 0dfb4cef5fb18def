package sqlite

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/credishield/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return client
}

var testInput = json.RawMessage(`{"checking_status":"no checking","duration":12,"age":35}`)

func TestInitSchemaIdempotent(t *testing.T) {
	client := newTestClient(t)

	for i := 0; i < 3; i++ {
		if err := client.InitSchema(); err != nil {
			t.Fatalf("InitSchema call %d: %v", i+2, err)
		}
	}
}

func TestInitSchemaIncompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	client, err := NewClient(path)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	// A predictions table from some other application.
	_, err = client.db.Exec(`CREATE TABLE predictions (id INTEGER PRIMARY KEY, payload TEXT)`)
	if err != nil {
		t.Fatalf("create foreign table: %v", err)
	}

	err = client.InitSchema()
	if !errors.Is(err, ErrSchemaIncompatible) {
		t.Fatalf("InitSchema error = %v, want ErrSchemaIncompatible", err)
	}
}

func TestInsertAssignsStrictlyIncreasingIDs(t *testing.T) {
	client := newTestClient(t)

	var prev int64
	for i := 0; i < 10; i++ {
		id, err := client.InsertPrediction(testInput, 0.3, nil, nil)
		if err != nil {
			t.Fatalf("InsertPrediction %d: %v", i, err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous id %d", id, prev)
		}
		prev = id
	}

	count, err := client.CountPredictions()
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
}

func TestInsertRejectsOutOfRangeProbability(t *testing.T) {
	client := newTestClient(t)

	for _, pd := range []float64{1.5, -0.1, math.NaN()} {
		if _, err := client.InsertPrediction(testInput, pd, nil, nil); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("InsertPrediction(pd=%v) error = %v, want ErrInvalidRecord", pd, err)
		}
	}

	count, err := client.CountPredictions()
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d after rejected inserts, want 0", count)
	}
}

func TestInsertAcceptsBoundaryProbabilities(t *testing.T) {
	client := newTestClient(t)

	for _, pd := range []float64{0, 1, 0.5} {
		if _, err := client.InsertPrediction(testInput, pd, nil, nil); err != nil {
			t.Errorf("InsertPrediction(pd=%v): %v", pd, err)
		}
	}
}

func TestLatestTimestamp(t *testing.T) {
	client := newTestClient(t)

	ts, err := client.LatestTimestamp()
	if err != nil {
		t.Fatalf("LatestTimestamp on empty store: %v", err)
	}
	if ts != nil {
		t.Fatalf("LatestTimestamp on empty store = %v, want nil", ts)
	}

	second := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	clock := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	client.SetClock(func() time.Time { return clock })

	if _, err := client.InsertPrediction(testInput, 0.2, nil, nil); err != nil {
		t.Fatalf("InsertPrediction: %v", err)
	}
	clock = second
	if _, err := client.InsertPrediction(testInput, 0.4, nil, nil); err != nil {
		t.Fatalf("InsertPrediction: %v", err)
	}

	ts, err = client.LatestTimestamp()
	if err != nil {
		t.Fatalf("LatestTimestamp: %v", err)
	}
	if ts == nil || !ts.Equal(second) {
		t.Fatalf("LatestTimestamp = %v, want %v", ts, second)
	}
}

func TestGetPredictionRoundTrip(t *testing.T) {
	client := newTestClient(t)

	increasing := []models.ReasonCode{
		{Feature: "checking_status", Impact: 0.31},
		{Feature: "duration", Impact: 0.12},
	}
	decreasing := []models.ReasonCode{
		{Feature: "age", Impact: -0.08},
	}

	id, err := client.InsertPrediction(testInput, 0.73, increasing, decreasing)
	if err != nil {
		t.Fatalf("InsertPrediction: %v", err)
	}

	record, err := client.GetPrediction(id)
	if err != nil {
		t.Fatalf("GetPrediction: %v", err)
	}

	if string(record.Input) != string(testInput) {
		t.Errorf("input = %s, want %s", record.Input, testInput)
	}
	if record.ProbabilityOfDefault != 0.73 {
		t.Errorf("pd = %v, want 0.73", record.ProbabilityOfDefault)
	}
	if len(record.TopRiskIncreasing) != 2 || record.TopRiskIncreasing[0].Feature != "checking_status" {
		t.Errorf("top_risk_increasing order not preserved: %+v", record.TopRiskIncreasing)
	}
	if len(record.TopRiskDecreasing) != 1 || record.TopRiskDecreasing[0].Impact != -0.08 {
		t.Errorf("top_risk_decreasing = %+v", record.TopRiskDecreasing)
	}
	if record.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp zone = %v, want UTC", record.Timestamp.Location())
	}
}

func TestConcurrentInsertsProduceDistinctGapFreeIDs(t *testing.T) {
	client := newTestClient(t)

	const workers = 25
	ids := make(chan int64, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := client.InsertPrediction(testInput, 0.4, nil, nil)
			if err != nil {
				t.Errorf("InsertPrediction: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	var max int64
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
		if id > max {
			max = id
		}
	}

	if len(seen) != workers {
		t.Fatalf("got %d successful inserts, want %d", len(seen), workers)
	}
	if max != workers {
		t.Fatalf("max id = %d, want %d (no gaps)", max, workers)
	}

	count, err := client.CountPredictions()
	if err != nil {
		t.Fatalf("CountPredictions: %v", err)
	}
	if count != workers {
		t.Fatalf("count = %d, want %d", count, workers)
	}
}

func TestTrendRowsOrderedAscending(t *testing.T) {
	client := newTestClient(t)

	days := []time.Time{
		time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	for _, day := range days {
		day := day
		client.SetClock(func() time.Time { return day })
		if _, err := client.InsertPrediction(testInput, 0.4, nil, nil); err != nil {
			t.Fatalf("InsertPrediction: %v", err)
		}
	}

	trends, err := client.TrendRows()
	if err != nil {
		t.Fatalf("TrendRows: %v", err)
	}

	want := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	if len(trends) != len(want) {
		t.Fatalf("got %d trend rows, want %d", len(trends), len(want))
	}
	for i, date := range want {
		if trends[i].Date != date {
			t.Errorf("trends[%d].Date = %s, want %s", i, trends[i].Date, date)
		}
	}
}
