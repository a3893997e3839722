package repositories

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cbodonnell/tether/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteMigrations(t *testing.T) string {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations", "sqlite")
}

func newRepositories(t *testing.T) map[string]Repository {
	ctx := context.Background()
	sqlite, err := NewSQLiteRepository(ctx, filepath.Join(t.TempDir(), "tether.db"), sqliteMigrations(t))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close(ctx) })

	return map[string]Repository{
		"sqlite": sqlite,
		"memory": NewInMemoryRepository(),
	}
}

func TestRepository_Sessions(t *testing.T) {
	ctx := context.Background()
	joined := time.UnixMilli(1_700_000_000_000)
	for name, repo := range newRepositories(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				require.NoError(t, repo.SaveSession(ctx, &models.SessionRecord{
					SessionID: byte(i),
					UserID:    "user",
					Name:      "alice",
					JoinedAt:  joined,
					LeftAt:    joined.Add(time.Duration(i) * time.Minute),
					Reason:    "left",
				}))
			}

			records, err := repo.ListSessions(ctx, 2)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, byte(2), records[0].SessionID)
			assert.Equal(t, byte(1), records[1].SessionID)
			assert.True(t, joined.Equal(records[0].JoinedAt))
			assert.True(t, joined.Add(2*time.Minute).Equal(records[0].LeftAt))
		})
	}
}

func TestRepository_Desyncs(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newRepositories(t) {
		t.Run(name, func(t *testing.T) {
			want := &models.DesyncRecord{
				SessionID:   4,
				UserID:      "bob",
				Kind:        "checksum",
				Expected:    10,
				Received:    65535,
				EntityID:    300,
				HasChecksum: true,
				Checksum:    0xdeadbeef,
				Fatal:       true,
				ReportedAt:  time.UnixMilli(1_700_000_000_123),
			}
			require.NoError(t, repo.SaveDesync(ctx, want))

			records, err := repo.ListDesyncs(ctx, 10)
			require.NoError(t, err)
			require.Len(t, records, 1)
			got := records[0]
			assert.True(t, want.ReportedAt.Equal(got.ReportedAt))
			got.ReportedAt = want.ReportedAt
			assert.Equal(t, want, got)
		})
	}
}

func TestRepository_Bans(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newRepositories(t) {
		t.Run(name, func(t *testing.T) {
			at := time.UnixMilli(1_700_000_000_000)
			require.NoError(t, repo.SaveBan(ctx, &models.BanRecord{UserID: "carol", Reason: "spam", BannedBy: "admin", At: at}))
			require.NoError(t, repo.SaveBan(ctx, &models.BanRecord{UserID: "carol", Reason: "griefing", BannedBy: "admin", At: at.Add(time.Second)}))
			require.NoError(t, repo.SaveBan(ctx, &models.BanRecord{UserID: "dave", Reason: "cheating", BannedBy: "admin", At: at.Add(2 * time.Second)}))

			bans, err := repo.ListBans(ctx)
			require.NoError(t, err)
			require.Len(t, bans, 2)
			assert.Equal(t, "carol", bans[0].UserID)
			assert.Equal(t, "griefing", bans[0].Reason)
			assert.Equal(t, "dave", bans[1].UserID)

			require.NoError(t, repo.DeleteBan(ctx, "carol"))
			assert.True(t, IsNotFound(repo.DeleteBan(ctx, "carol")))
			bans, err = repo.ListBans(ctx)
			require.NoError(t, err)
			assert.Len(t, bans, 1)
		})
	}
}

func TestRepository_Respawns(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newRepositories(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, repo.SaveRespawn(ctx, &models.RespawnRecord{State: "transporting", Crew: 3, At: time.Now()}))
		})
	}
}

func TestNewSQLiteRepository_MissingMigrations(t *testing.T) {
	_, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "x.db"), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
