package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Repository = &PostgresRepository{}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to connStr and runs the migrations. The
// caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string, migrations string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}
	log.Info("Connected to %s as %s", database, username)

	if err := runMigrations(migrations, func(name, migration string) error {
		_, err := pool.Exec(ctx, migration)
		return err
	}); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	q := `
	INSERT INTO sessions (session_id, user_id, name, joined_at, left_at, reason)
	VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := r.pool.Exec(ctx, q, int16(record.SessionID), record.UserID, record.Name, record.JoinedAt, record.LeftAt, record.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert session: %v", err)
	}

	return nil
}

func (r *PostgresRepository) SaveDesync(ctx context.Context, record *models.DesyncRecord) error {
	q := `
	INSERT INTO desyncs (session_id, user_id, kind, expected, received, entity_id, has_checksum, checksum, fatal, reported_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err := r.pool.Exec(ctx, q, int16(record.SessionID), record.UserID, record.Kind, int32(record.Expected), int32(record.Received),
		int32(record.EntityID), record.HasChecksum, int64(record.Checksum), record.Fatal, record.ReportedAt)
	if err != nil {
		return fmt.Errorf("failed to insert desync: %v", err)
	}

	return nil
}

func (r *PostgresRepository) SaveRespawn(ctx context.Context, record *models.RespawnRecord) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO respawns (state, crew, at) VALUES ($1, $2, $3);`, record.State, record.Crew, record.At)
	if err != nil {
		return fmt.Errorf("failed to insert respawn: %v", err)
	}

	return nil
}

func (r *PostgresRepository) SaveBan(ctx context.Context, record *models.BanRecord) error {
	q := `
	INSERT INTO bans (user_id, reason, banned_by, at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id) DO UPDATE SET reason = $2, banned_by = $3, at = $4;
	`
	_, err := r.pool.Exec(ctx, q, record.UserID, record.Reason, record.BannedBy, record.At)
	if err != nil {
		return fmt.Errorf("failed to insert ban: %v", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteBan(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bans WHERE user_id = $1;`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete ban: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Kind: "ban", Key: userID}
	}

	return nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	q := `
	SELECT session_id, user_id, name, joined_at, left_at, reason
	FROM sessions ORDER BY id DESC LIMIT $1;
	`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %v", err)
	}
	defer rows.Close()

	var records []*models.SessionRecord
	for rows.Next() {
		record := &models.SessionRecord{}
		var sessionID int16
		if err := rows.Scan(&sessionID, &record.UserID, &record.Name, &record.JoinedAt, &record.LeftAt, &record.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %v", err)
		}
		record.SessionID = byte(sessionID)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %v", err)
	}

	return records, nil
}

func (r *PostgresRepository) ListDesyncs(ctx context.Context, limit int) ([]*models.DesyncRecord, error) {
	q := `
	SELECT session_id, user_id, kind, expected, received, entity_id, has_checksum, checksum, fatal, reported_at
	FROM desyncs ORDER BY id DESC LIMIT $1;
	`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query desyncs: %v", err)
	}
	defer rows.Close()

	var records []*models.DesyncRecord
	for rows.Next() {
		record := &models.DesyncRecord{}
		var (
			sessionID                    int16
			expected, received, entityID int32
			checksum                     int64
		)
		if err := rows.Scan(&sessionID, &record.UserID, &record.Kind, &expected, &received,
			&entityID, &record.HasChecksum, &checksum, &record.Fatal, &record.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan desync: %v", err)
		}
		record.SessionID = byte(sessionID)
		record.Expected = uint16(expected)
		record.Received = uint16(received)
		record.EntityID = uint16(entityID)
		record.Checksum = uint32(checksum)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read desyncs: %v", err)
	}

	return records, nil
}

func (r *PostgresRepository) ListBans(ctx context.Context) ([]*models.BanRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, reason, banned_by, at FROM bans ORDER BY at;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bans: %v", err)
	}
	defer rows.Close()

	var records []*models.BanRecord
	for rows.Next() {
		record := &models.BanRecord{}
		if err := rows.Scan(&record.UserID, &record.Reason, &record.BannedBy, &record.At); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			return nil, fmt.Errorf("failed to scan ban: %v", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bans: %v", err)
	}

	return records, nil
}
