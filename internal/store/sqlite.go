// Package store persists the append-only prediction log, the user registry
// and inbound-channel bookkeeping in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/sunsetglow/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the database at path with the standard pragmas and
// runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	s := New(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const predictionColumns = `id, cycle_date, sunset_time, predicted_quality, actual_quality,
	cloud_cover_pct, humidity_pct, visibility_m, pm25, aqi, description, captured_at,
	feedback_received_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (models.PredictionRecord, error) {
	var rec models.PredictionRecord
	var description sql.NullString
	err := row.Scan(&rec.ID, &rec.CycleDate, &rec.SunsetTime, &rec.PredictedQuality, &rec.ActualQuality,
		&rec.Weather.CloudCoverPct, &rec.Weather.HumidityPct, &rec.Weather.VisibilityM,
		&rec.Weather.PM25, &rec.Weather.AQI, &description, &rec.Weather.CapturedAt,
		&rec.FeedbackAt, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	rec.Weather.Description = description.String
	return rec, nil
}

// AppendPrediction inserts a new unresolved record and returns its assigned
// id. Ids are monotonically increasing; rows are never overwritten. The insert
// is the atomic unit of persistence for a prediction cycle.
func (s *Store) AppendPrediction(rec models.PredictionRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO predictions (cycle_date, sunset_time, predicted_quality, actual_quality,
			cloud_cover_pct, humidity_pct, visibility_m, pm25, aqi, description, captured_at,
			feedback_received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.CycleDate, rec.SunsetTime, rec.PredictedQuality, rec.ActualQuality,
		rec.Weather.CloudCoverPct, rec.Weather.HumidityPct, rec.Weather.VisibilityM,
		rec.Weather.PM25, rec.Weather.AQI, rec.Weather.Description, rec.Weather.CapturedAt,
		rec.FeedbackAt, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append prediction: %w", err)
	}
	return res.LastInsertId()
}

// OldestUnresolved returns the unresolved record with the earliest created_at,
// or nil when every record has feedback attached. If automation misfired and
// left several cycles outstanding, a late rating resolves the oldest question
// first, preserving temporal correspondence with what the user watched.
func (s *Store) OldestUnresolved() (*models.PredictionRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE actual_quality IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)

	rec, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ResolvePrediction attaches a rating to a record exactly once. The
// actual_quality IS NULL guard makes the mutation idempotent: a record that
// already has feedback is never touched again, even under overlapping
// invocations. Returns false when the record was already resolved.
func (s *Store) ResolvePrediction(id int64, rating int, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE predictions
		SET actual_quality = ?, feedback_received_at = ?
		WHERE id = ? AND actual_quality IS NULL
	`, rating, at, id)
	if err != nil {
		return false, fmt.Errorf("resolve prediction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResolvedSince returns all resolved records created at or after cutoff,
// ordered by created_at ascending. Each call is a fresh query, not a stateful
// cursor.
func (s *Store) ResolvedSince(cutoff time.Time) ([]models.PredictionRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE actual_quality IS NOT NULL AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.PredictionRecord
	for rows.Next() {
		rec, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) GetPrediction(id int64) (*models.PredictionRecord, error) {
	row := s.db.QueryRow(`SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, id)
	rec, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) CountUnresolved() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM predictions WHERE actual_quality IS NULL`).Scan(&count)
	return count, err
}

// HasPredictionForDate reports whether a cycle already ran for the given local
// calendar date. The serve loop uses this to issue at most one prediction per
// evening.
func (s *Store) HasPredictionForDate(date time.Time) (bool, error) {
	var count int
	dateStr := date.Format("2006-01-02")
	err := s.db.QueryRow(`SELECT COUNT(*) FROM predictions WHERE SUBSTR(cycle_date, 1, 10) = ?`, dateStr).Scan(&count)
	return count > 0, err
}

// RegisterUser inserts a user if not already known. Returns true when the user
// is new, so the caller can send a one-time welcome message.
func (s *Store) RegisterUser(u models.User) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO users (chat_id, username, first_name, registered_at, active)
		VALUES (?, ?, ?, ?, TRUE)
		ON CONFLICT(chat_id) DO NOTHING
	`, u.ChatID, u.Username, u.FirstName, u.RegisteredAt)
	if err != nil {
		return false, fmt.Errorf("register user %d: %w", u.ChatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ActiveUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT chat_id, username, first_name, registered_at, active FROM users WHERE active = TRUE ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ChatID, &u.Username, &u.FirstName, &u.RegisteredAt, &u.Active); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const lastUpdateKey = "telegram_last_update_id"

// LastUpdateID returns the highest inbound update id already processed, or 0
// when no updates have been seen.
func (s *Store) LastUpdateID() (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, lastUpdateKey).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) SetLastUpdateID(id int64) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastUpdateKey, id)
	return err
}
