package config

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs Store with a local SQLite database. It owns the same
// cameras/models/detectors tables the surrounding CRUD application writes
// to; the core only ever reads through it.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and runs
// migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			model_name TEXT NOT NULL DEFAULT '',
			model_file BLOB,
			original_filename TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS detectors (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			running INTEGER NOT NULL DEFAULT 0,
			tracking INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (camera_id) REFERENCES cameras(id),
			FOREIGN KEY (model_id) REFERENCES models(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detectors_running ON detectors(running)`,
		// Idempotent no-op migrations kept for parity with the schema
		// evolution pattern used elsewhere in the surrounding application:
		// ALTER TABLE statements that may already have been applied are
		// tolerated below.
		`ALTER TABLE cameras ADD COLUMN type TEXT NOT NULL DEFAULT ''`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListDetectors(runningOnly bool) ([]*DetectorConfig, error) {
	query := `SELECT id, camera_id, model_id, running, tracking FROM detectors`
	if runningOnly {
		query += ` WHERE running = 1`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list detectors: %w", err)
	}
	defer rows.Close()

	var out []*DetectorConfig
	for rows.Next() {
		d := &DetectorConfig{}
		var running, tracking int
		if err := rows.Scan(&d.ID, &d.CameraID, &d.ModelID, &running, &tracking); err != nil {
			return nil, fmt.Errorf("scan detector: %w", err)
		}
		d.Running = running == 1
		d.Tracking = tracking == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDetector(id string) (*DetectorConfig, error) {
	row := s.db.QueryRow(`SELECT id, camera_id, model_id, running, tracking FROM detectors WHERE id = ?`, id)
	d := &DetectorConfig{}
	var running, tracking int
	err := row.Scan(&d.ID, &d.CameraID, &d.ModelID, &running, &tracking)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get detector: %w", err)
	}
	d.Running = running == 1
	d.Tracking = tracking == 1
	return d, nil
}

func (s *SQLiteStore) GetCamera(idOrURL string) (*CameraConfig, error) {
	row := s.db.QueryRow(`SELECT id, location, ip_address, type, status FROM cameras WHERE id = ? OR ip_address = ?`, idOrURL, idOrURL)
	c := &CameraConfig{}
	var status int
	err := row.Scan(&c.ID, &c.Location, &c.URL, &c.Type, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	c.Enabled = status == 1
	return c, nil
}

func (s *SQLiteStore) GetModel(id string) (*ModelConfig, error) {
	row := s.db.QueryRow(`SELECT id, model_name, model_file, original_filename FROM models WHERE id = ?`, id)
	m := &ModelConfig{}
	err := row.Scan(&m.ID, &m.Name, &m.Blob, &m.OriginalFilename)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListCameras() ([]*CameraConfig, error) {
	rows, err := s.db.Query(`SELECT id, location, ip_address, type, status FROM cameras ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var out []*CameraConfig
	for rows.Next() {
		c := &CameraConfig{}
		var status int
		if err := rows.Scan(&c.ID, &c.Location, &c.URL, &c.Type, &status); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		c.Enabled = status == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListModels() ([]*ModelConfig, error) {
	rows, err := s.db.Query(`SELECT id, model_name, model_file, original_filename FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*ModelConfig
	for rows.Next() {
		m := &ModelConfig{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Blob, &m.OriginalFilename); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
