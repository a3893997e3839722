package repositories

import (
	"context"

	"github.com/cbodonnell/tether/pkg/repositories/models"
)

// Repository persists what the game loop wants to keep beyond a round.
// Implementations must be safe for concurrent use: the record worker writes
// while API handlers read.
type Repository interface {
	Close(ctx context.Context) error
	SaveSession(ctx context.Context, record *models.SessionRecord) error
	SaveDesync(ctx context.Context, record *models.DesyncRecord) error
	SaveRespawn(ctx context.Context, record *models.RespawnRecord) error
	SaveBan(ctx context.Context, record *models.BanRecord) error
	// DeleteBan returns ErrNotFound when the user is not banned.
	DeleteBan(ctx context.Context, userID string) error
	// ListSessions and ListDesyncs return the newest records first.
	ListSessions(ctx context.Context, limit int) ([]*models.SessionRecord, error)
	ListDesyncs(ctx context.Context, limit int) ([]*models.DesyncRecord, error)
	ListBans(ctx context.Context) ([]*models.BanRecord, error)
}
