package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the active session: its video,
// analyses and conversation turns.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "wildscope.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Session ---

// ReplaceSession atomically binds the session to a new video. Prior
// videos, analyses and turns are removed in the same transaction; the
// upload paths of removed videos are returned so the caller can delete
// the files.
func (s *Store) ReplaceSession(v Video) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning session swap: %w", err)
	}
	defer tx.Rollback()

	removed, err := uploadPaths(tx)
	if err != nil {
		return nil, err
	}

	if err := clearTables(tx); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO videos (id, filename, path, size_bytes, frame_rate, duration_seconds, width, height, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Filename, v.Path, v.SizeBytes, v.FrameRate, v.DurationSeconds, v.Width, v.Height,
		v.UploadedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return nil, fmt.Errorf("inserting video: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session swap: %w", err)
	}
	return removed, nil
}

// ClearSession removes the active session and returns the upload paths
// of removed videos.
func (s *Store) ClearSession() ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning session clear: %w", err)
	}
	defer tx.Rollback()

	removed, err := uploadPaths(tx)
	if err != nil {
		return nil, err
	}

	if err := clearTables(tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session clear: %w", err)
	}
	return removed, nil
}

func uploadPaths(tx *sql.Tx) ([]string, error) {
	rows, err := tx.Query("SELECT path FROM videos")
	if err != nil {
		return nil, fmt.Errorf("listing upload paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func clearTables(tx *sql.Tx) error {
	for _, stmt := range []string{"DELETE FROM turns", "DELETE FROM analyses", "DELETE FROM videos"} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("clearing prior session: %w", err)
		}
	}
	return nil
}

// ActiveVideo returns the video the current session is bound to.
func (s *Store) ActiveVideo() (Video, error) {
	var v Video
	var uploadedAt string
	err := s.db.QueryRow(`
		SELECT id, filename, path, size_bytes, frame_rate, duration_seconds, width, height, uploaded_at
		FROM videos LIMIT 1`,
	).Scan(&v.ID, &v.Filename, &v.Path, &v.SizeBytes, &v.FrameRate, &v.DurationSeconds, &v.Width, &v.Height, &uploadedAt)
	if err == sql.ErrNoRows {
		return Video{}, ErrNotFound
	}
	if err != nil {
		return Video{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadedAt)
	if err != nil {
		return Video{}, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	v.UploadedAt = t
	return v, nil
}

// --- Analyses ---

func (s *Store) SaveAnalysis(a Analysis) error {
	speciesJSON := a.SpeciesJSON
	if speciesJSON == "" {
		speciesJSON = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO analyses (id, video_id, prompt, raw_text, species_json, frames_analyzed, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.VideoID, a.Prompt, a.RawText, speciesJSON, a.FramesAnalyzed, a.Model,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) LatestAnalysis(videoID string) (Analysis, error) {
	var a Analysis
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, video_id, prompt, raw_text, species_json, frames_analyzed, model, created_at
		FROM analyses WHERE video_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, videoID,
	).Scan(&a.ID, &a.VideoID, &a.Prompt, &a.RawText, &a.SpeciesJSON, &a.FramesAnalyzed, &a.Model, &createdAt)
	if err == sql.ErrNoRows {
		return Analysis{}, ErrNotFound
	}
	if err != nil {
		return Analysis{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Analysis{}, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

// --- Turns ---

func (s *Store) AppendTurn(t Turn) error {
	_, err := s.db.Exec(`
		INSERT INTO turns (video_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		t.VideoID, t.Role, t.Content, t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListTurns(videoID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, video_id, role, content, created_at
		FROM turns WHERE video_id = ? ORDER BY id ASC`, videoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.VideoID, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = ts
		results = append(results, t)
	}
	return results, rows.Err()
}
