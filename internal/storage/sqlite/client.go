package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/credishield/backend/internal/storage/models"
	"github.com/credishield/backend/pkg/logger"
)

var (
	// ErrInvalidRecord marks a record rejected before write, e.g. a
	// probability outside [0,1]. Nothing is persisted.
	ErrInvalidRecord = errors.New("invalid prediction record")

	// ErrSchemaIncompatible marks an existing predictions table whose
	// columns do not match the expected schema. Fatal at startup.
	ErrSchemaIncompatible = errors.New("incompatible predictions schema")

	// ErrWrite marks an I/O failure during insert. The record was not
	// logged; the caller may retry.
	ErrWrite = errors.New("prediction write failed")
)

// Client is the append-only prediction store. There is no update or delete
// path: rows are immutable once written, and ids are assigned by SQLite's
// AUTOINCREMENT so they are unique and strictly increasing in insert order.
type Client struct {
	db *sql.DB

	// now is the insertion clock, replaceable in tests.
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Concurrent inserts queue on SQLite's write lock instead of failing
	// with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// SetClock overrides the insertion clock. Tests use it to pin timestamps.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// expectedColumns is the contract for a pre-existing predictions table.
var expectedColumns = map[string]string{
	"id":                       "INTEGER",
	"timestamp":                "TEXT",
	"input_json":               "TEXT",
	"pd_score":                 "REAL",
	"top_risk_increasing_json": "TEXT",
	"top_risk_decreasing_json": "TEXT",
}

// InitSchema creates the predictions table if it does not exist. It is
// idempotent and safe to race across process starts. If a table named
// predictions already exists with a different column set, InitSchema fails
// with ErrSchemaIncompatible rather than writing into the wrong shape.
func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		input_json TEXT NOT NULL,
		pd_score REAL NOT NULL,
		top_risk_increasing_json TEXT NOT NULL,
		top_risk_decreasing_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_timestamp ON predictions(timestamp);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := c.verifySchema(); err != nil {
		return err
	}

	logger.Info("Predictions schema initialized")
	return nil
}

func (c *Client) verifySchema() error {
	rows, err := c.db.Query(`PRAGMA table_info(predictions)`)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	defer rows.Close()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dfltVal sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltVal, &pk); err != nil {
			return fmt.Errorf("failed to scan schema row: %w", err)
		}
		found[name] = colType
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}

	if len(found) != len(expectedColumns) {
		return fmt.Errorf("%w: predictions has %d columns, want %d",
			ErrSchemaIncompatible, len(found), len(expectedColumns))
	}
	for name, colType := range expectedColumns {
		got, ok := found[name]
		if !ok {
			return fmt.Errorf("%w: missing column %s", ErrSchemaIncompatible, name)
		}
		if got != colType {
			return fmt.Errorf("%w: column %s is %s, want %s",
				ErrSchemaIncompatible, name, got, colType)
		}
	}

	return nil
}

// InsertPrediction appends one record and returns its assigned id. The
// probability is validated against [0,1] before anything touches the
// database; the timestamp is assigned here, in UTC, so record order and
// timestamp order agree. The insert is a single statement and therefore
// atomic: a concurrent reader sees either the whole row or no row.
func (c *Client) InsertPrediction(input json.RawMessage, pd float64, increasing, decreasing []models.ReasonCode) (int64, error) {
	if math.IsNaN(pd) || pd < 0 || pd > 1 {
		return 0, fmt.Errorf("%w: probability_of_default %v outside [0,1]", ErrInvalidRecord, pd)
	}

	timestamp := c.now().UTC().Format(time.RFC3339Nano)

	increasingJSON, err := json.Marshal(increasing)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal top_risk_increasing: %v", ErrInvalidRecord, err)
	}
	decreasingJSON, err := json.Marshal(decreasing)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal top_risk_decreasing: %v", ErrInvalidRecord, err)
	}

	query := `
		INSERT INTO predictions (timestamp, input_json, pd_score, top_risk_increasing_json, top_risk_decreasing_json)
		VALUES (?, ?, ?, ?, ?)
	`

	res, err := c.db.Exec(query, timestamp, string(input), pd, string(increasingJSON), string(decreasingJSON))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	logger.Debug("Prediction recorded",
		zap.Int64("record_id", id),
		zap.Float64("pd_score", pd),
	)

	return id, nil
}

// CountPredictions reports the total number of records ever appended.
func (c *Client) CountPredictions() (int64, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}

// LatestTimestamp returns the timestamp of the most recently appended
// record, or nil on an empty store.
func (c *Client) LatestTimestamp() (*time.Time, error) {
	var raw string
	err := c.db.QueryRow(`SELECT timestamp FROM predictions ORDER BY id DESC LIMIT 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest timestamp: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", raw, err)
	}
	return &ts, nil
}

// GetPrediction fetches one record by id.
func (c *Client) GetPrediction(id int64) (*models.PredictionRecord, error) {
	query := `
		SELECT id, timestamp, input_json, pd_score, top_risk_increasing_json, top_risk_decreasing_json
		FROM predictions WHERE id = ?
	`

	var (
		record        models.PredictionRecord
		rawTimestamp  string
		rawInput      string
		rawIncreasing string
		rawDecreasing string
	)
	err := c.db.QueryRow(query, id).Scan(
		&record.ID,
		&rawTimestamp,
		&rawInput,
		&record.ProbabilityOfDefault,
		&rawIncreasing,
		&rawDecreasing,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction %d: %w", id, err)
	}

	record.Timestamp, err = time.Parse(time.RFC3339Nano, rawTimestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", rawTimestamp, err)
	}
	record.Input = json.RawMessage(rawInput)
	if err := json.Unmarshal([]byte(rawIncreasing), &record.TopRiskIncreasing); err != nil {
		return nil, fmt.Errorf("failed to decode top_risk_increasing: %w", err)
	}
	if err := json.Unmarshal([]byte(rawDecreasing), &record.TopRiskDecreasing); err != nil {
		return nil, fmt.Errorf("failed to decode top_risk_decreasing: %w", err)
	}

	return &record, nil
}

// TrendRows groups all records by UTC calendar date, ascending. Timestamps
// are stored as RFC 3339 UTC strings, so the first ten characters are the
// calendar date; grouping on that prefix keeps the whole aggregation inside
// one consistent read. The 0.5 high-risk threshold is a policy constant.
func (c *Client) TrendRows() ([]models.TrendPoint, error) {
	query := `
		SELECT
			substr(timestamp, 1, 10) AS day,
			COUNT(*) AS prediction_count,
			AVG(pd_score) AS avg_pd,
			AVG(CASE WHEN pd_score >= 0.5 THEN 1.0 ELSE 0.0 END) AS high_risk_rate
		FROM predictions
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trends: %w", err)
	}
	defer rows.Close()

	trends := make([]models.TrendPoint, 0)
	for rows.Next() {
		var point models.TrendPoint
		if err := rows.Scan(&point.Date, &point.PredictionCount, &point.AvgPD, &point.HighRiskRate); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		trends = append(trends, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trend rows: %w", err)
	}

	return trends, nil
}
