package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/cache"
	"github.com/larry091001/incubator-skywalking/internal/graph"
	"github.com/larry091001/incubator-skywalking/internal/metrics"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/notify"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

const defaultSendTimeout = 30 * time.Second

// NotificationDeps are the collaborators of a NotificationWorker. A nil
// Channel turns the worker into a pass-through.
type NotificationDeps struct {
	Channel      notify.Channel
	Applications cache.ApplicationCache
	Services     cache.ServiceNameCache
	Instances    storage.InstanceDAO
	Contacts     storage.AlarmContactDAO
	Links        storage.ApplicationAlarmContactDAO
	// SendTimeout bounds lookups and the send of one record
	SendTimeout time.Duration
}

// NotificationWorker sends one message per alarm record to the contacts
// linked to its application. Failures are logged and the record always
// moves on to the next worker.
type NotificationWorker struct {
	logger *zap.Logger
	deps   NotificationDeps
}

// NewNotificationWorker creates the email alarm worker
func NewNotificationWorker(logger *zap.Logger, deps NotificationDeps) *NotificationWorker {
	if deps.SendTimeout <= 0 {
		deps.SendTimeout = defaultSendTimeout
	}
	return &NotificationWorker{
		logger: logger.Named("notification"),
		deps:   deps,
	}
}

// ID implements graph.NodeProcessor
func (w *NotificationWorker) ID() int {
	return EmailAlarmWorkerID
}

// Process implements graph.NodeProcessor
func (w *NotificationWorker) Process(input model.AlarmRecord, next graph.Next[model.AlarmRecord]) {
	if w.deps.Channel != nil {
		w.notify(input)
	}
	next(input)
}

func (w *NotificationWorker) notify(record model.AlarmRecord) {
	start := time.Now()
	outcome := metrics.OutcomeFailed
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Alarm notification panicked",
				zap.Int("worker_id", w.ID()),
				zap.Int("application_id", record.ApplicationID),
				zap.Any("panic", r))
			outcome = metrics.OutcomeFailed
		}
		metrics.ObserveNotification(time.Since(start), outcome)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.deps.SendTimeout)
	defer cancel()

	sent, err := w.deliver(ctx, record)
	switch {
	case err != nil:
		if errors.Is(err, ErrNameUnresolved) {
			outcome = metrics.OutcomeSkipped
		}
		w.logger.Error("Failed to notify alarm",
			zap.Int("worker_id", w.ID()),
			zap.Int("application_id", record.ApplicationID),
			zap.String("alarm_kind", string(record.Kind)),
			zap.String("alarm_type", string(record.AlarmType)),
			zap.Error(err))
	case sent:
		outcome = metrics.OutcomeSent
	default:
		outcome = metrics.OutcomeSkipped
	}
}

// deliver reports whether a message was sent
func (w *NotificationWorker) deliver(ctx context.Context, record model.AlarmRecord) (bool, error) {
	title, err := w.title(ctx, record)
	if err != nil {
		return false, err
	}

	recipients, err := w.recipients(ctx, record.ApplicationID)
	if err != nil {
		return false, err
	}
	if len(recipients) == 0 {
		w.logger.Debug("No alarm recipients",
			zap.Int("application_id", record.ApplicationID))
		return false, nil
	}

	if err := w.deps.Channel.Send(ctx, recipients, record.AlarmContent, title); err != nil {
		return false, fmt.Errorf("failed to send alarm to %d recipients: %w", len(recipients), err)
	}
	w.logger.Info("Alarm notified",
		zap.Int("application_id", record.ApplicationID),
		zap.String("title", title),
		zap.Int("recipients", len(recipients)))
	return true, nil
}

func (w *NotificationWorker) title(ctx context.Context, record model.AlarmRecord) (string, error) {
	app, ok := w.deps.Applications.GetApplicationByID(ctx, record.ApplicationID)
	if !ok {
		return "", fmt.Errorf("%w: application %d", ErrNameUnresolved, record.ApplicationID)
	}

	var name string
	switch record.Kind {
	case model.AlarmKindService:
		service, ok := w.deps.Services.Get(ctx, record.ServiceID)
		if !ok {
			return "", fmt.Errorf("%w: service %d", ErrNameUnresolved, record.ServiceID)
		}
		name = service.Name
	case model.AlarmKindInstance:
		instance, err := w.deps.Instances.Get(ctx, record.InstanceID)
		if err != nil {
			return "", err
		}
		if instance == nil {
			return "", fmt.Errorf("%w: instance %d", ErrNameUnresolved, record.InstanceID)
		}
		name = HostName(instance.OsInfo)
	}

	return Title(record, app.Code, name)
}

// recipients returns the non-empty emails of the application's contacts
// in link order
func (w *NotificationWorker) recipients(ctx context.Context, applicationID int) ([]string, error) {
	links, err := w.deps.Links.GetByApplicationID(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var emails []string
	for _, link := range links {
		contact, err := w.deps.Contacts.Get(ctx, link.AlarmContactID)
		if err != nil {
			return nil, err
		}
		if contact != nil && contact.Email != "" {
			emails = append(emails, contact.Email)
		}
	}
	return emails, nil
}
