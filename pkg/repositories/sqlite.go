package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cbodonnell/tether/pkg/repositories/models"
	_ "github.com/mattn/go-sqlite3"
)

var _ Repository = &SQLiteRepository{}

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database at path and runs every migration
// in the migrations directory in name order.
func NewSQLiteRepository(ctx context.Context, path string, migrations string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := runMigrations(migrations, func(name, migration string) error {
		_, err := db.ExecContext(ctx, migration)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func runMigrations(dir string, exec func(name, migration string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		migrationPath := filepath.Join(dir, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if err := exec(entry.Name(), string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	q := `
	INSERT INTO sessions (session_id, user_id, name, joined_at, left_at, reason)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, record.SessionID, record.UserID, record.Name, record.JoinedAt.UnixMilli(), record.LeftAt.UnixMilli(), record.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert session: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) SaveDesync(ctx context.Context, record *models.DesyncRecord) error {
	q := `
	INSERT INTO desyncs (session_id, user_id, kind, expected, received, entity_id, has_checksum, checksum, fatal, reported_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, record.SessionID, record.UserID, record.Kind, record.Expected, record.Received,
		record.EntityID, record.HasChecksum, record.Checksum, record.Fatal, record.ReportedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert desync: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) SaveRespawn(ctx context.Context, record *models.RespawnRecord) error {
	q := `
	INSERT INTO respawns (state, crew, at) VALUES (?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, record.State, record.Crew, record.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert respawn: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) SaveBan(ctx context.Context, record *models.BanRecord) error {
	q := `
	INSERT OR REPLACE INTO bans (user_id, reason, banned_by, at) VALUES (?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, record.UserID, record.Reason, record.BannedBy, record.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert ban: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) DeleteBan(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bans WHERE user_id = ?;`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete ban: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete ban: %v", err)
	}
	if n == 0 {
		return &ErrNotFound{Kind: "ban", Key: userID}
	}

	return nil
}

func (r *SQLiteRepository) ListSessions(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	q := `
	SELECT session_id, user_id, name, joined_at, left_at, reason
	FROM sessions ORDER BY id DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %v", err)
	}
	defer rows.Close()

	var records []*models.SessionRecord
	for rows.Next() {
		record := &models.SessionRecord{}
		var joinedAt, leftAt int64
		if err := rows.Scan(&record.SessionID, &record.UserID, &record.Name, &joinedAt, &leftAt, &record.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %v", err)
		}
		record.JoinedAt = time.UnixMilli(joinedAt)
		record.LeftAt = time.UnixMilli(leftAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %v", err)
	}

	return records, nil
}

func (r *SQLiteRepository) ListDesyncs(ctx context.Context, limit int) ([]*models.DesyncRecord, error) {
	q := `
	SELECT session_id, user_id, kind, expected, received, entity_id, has_checksum, checksum, fatal, reported_at
	FROM desyncs ORDER BY id DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query desyncs: %v", err)
	}
	defer rows.Close()

	var records []*models.DesyncRecord
	for rows.Next() {
		record := &models.DesyncRecord{}
		var reportedAt int64
		if err := rows.Scan(&record.SessionID, &record.UserID, &record.Kind, &record.Expected, &record.Received,
			&record.EntityID, &record.HasChecksum, &record.Checksum, &record.Fatal, &reportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan desync: %v", err)
		}
		record.ReportedAt = time.UnixMilli(reportedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read desyncs: %v", err)
	}

	return records, nil
}

func (r *SQLiteRepository) ListBans(ctx context.Context) ([]*models.BanRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, reason, banned_by, at FROM bans ORDER BY at;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bans: %v", err)
	}
	defer rows.Close()

	var records []*models.BanRecord
	for rows.Next() {
		record := &models.BanRecord{}
		var at int64
		if err := rows.Scan(&record.UserID, &record.Reason, &record.BannedBy, &at); err != nil {
			return nil, fmt.Errorf("failed to scan ban: %v", err)
		}
		record.At = time.UnixMilli(at)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bans: %v", err)
	}

	return records, nil
}
