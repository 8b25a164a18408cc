package alarm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/graph"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// ValidationWorker is the entry of the alarm graph. Invalid records are
// logged and dropped; they never reach the notification worker.
type ValidationWorker struct {
	logger *zap.Logger
}

// NewValidationWorker creates the entry worker
func NewValidationWorker(logger *zap.Logger) *ValidationWorker {
	return &ValidationWorker{logger: logger.Named("validation")}
}

// ID implements graph.NodeProcessor
func (w *ValidationWorker) ID() int {
	return ValidationWorkerID
}

// Process implements graph.NodeProcessor
func (w *ValidationWorker) Process(input model.AlarmRecord, next graph.Next[model.AlarmRecord]) {
	if err := input.Validate(); err != nil {
		w.logger.Warn("Dropping invalid alarm record",
			zap.Int("worker_id", w.ID()),
			zap.String("alarm_id", input.ID),
			zap.Int("application_id", input.ApplicationID),
			zap.String("alarm_kind", string(input.Kind)),
			zap.Error(err))
		return
	}
	next(input)
}

// PersistenceWorker stores every record it sees. A failed write is
// logged and the record still moves on.
type PersistenceWorker struct {
	logger  *zap.Logger
	alarms  storage.AlarmDAO
	timeout time.Duration
}

// NewPersistenceWorker creates the terminal worker
func NewPersistenceWorker(logger *zap.Logger, alarms storage.AlarmDAO) *PersistenceWorker {
	return &PersistenceWorker{
		logger:  logger.Named("persistence"),
		alarms:  alarms,
		timeout: 10 * time.Second,
	}
}

// ID implements graph.NodeProcessor
func (w *PersistenceWorker) ID() int {
	return PersistenceWorkerID
}

// Process implements graph.NodeProcessor
func (w *PersistenceWorker) Process(input model.AlarmRecord, next graph.Next[model.AlarmRecord]) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	record := input
	if err := w.alarms.Save(ctx, &record); err != nil {
		w.logger.Error("Failed to store alarm",
			zap.Int("worker_id", w.ID()),
			zap.Int("application_id", input.ApplicationID),
			zap.String("alarm_type", string(input.AlarmType)),
			zap.Error(err))
	}
	next(record)
}
