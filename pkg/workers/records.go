package workers

import (
	"context"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/repositories"
	"github.com/cbodonnell/tether/pkg/repositories/models"
)

// RecordRequest carries exactly one record to persist.
type RecordRequest struct {
	Session *models.SessionRecord
	Desync  *models.DesyncRecord
	Respawn *models.RespawnRecord
	Ban     *models.BanRecord
}

// RecordWorker writes records produced by the game loop so the tick never
// waits on the database.
type RecordWorker struct {
	repository repositories.Repository
	recordChan <-chan RecordRequest
}

type NewRecordWorkerOptions struct {
	Repository repositories.Repository
	RecordChan <-chan RecordRequest
}

func NewRecordWorker(opts NewRecordWorkerOptions) *RecordWorker {
	return &RecordWorker{
		repository: opts.Repository,
		recordChan: opts.RecordChan,
	}
}

// Start persists records until ctx is done. Requests still buffered at that
// point are written before returning.
func (w *RecordWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case req := <-w.recordChan:
			w.save(ctx, req)
		}
	}
}

func (w *RecordWorker) drain() {
	ctx := context.Background()
	for {
		select {
		case req := <-w.recordChan:
			w.save(ctx, req)
		default:
			return
		}
	}
}

func (w *RecordWorker) save(ctx context.Context, req RecordRequest) {
	var err error
	switch {
	case req.Session != nil:
		err = w.repository.SaveSession(ctx, req.Session)
	case req.Desync != nil:
		err = w.repository.SaveDesync(ctx, req.Desync)
	case req.Respawn != nil:
		err = w.repository.SaveRespawn(ctx, req.Respawn)
	case req.Ban != nil:
		err = w.repository.SaveBan(ctx, req.Ban)
	default:
		log.Warn("Ignoring empty record request")
		return
	}
	if err != nil {
		log.Error("Failed to save record: %v", err)
	}
}
