package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

var validate = validator.New()

// AlarmContactInput carries the editable fields of an alarm contact
type AlarmContactInput struct {
	Email       string `validate:"omitempty,email,max=128"`
	PhoneNumber string `validate:"omitempty,max=32"`
	RealName    string `validate:"omitempty,max=64"`
}

// AlarmContactService administers alarm contacts
type AlarmContactService struct {
	logger   *zap.Logger
	contacts storage.AlarmContactDAO
	links    storage.ApplicationAlarmContactDAO
	now      func() time.Time

	// serialises id allocation
	mu sync.Mutex
}

// NewAlarmContactService creates the service
func NewAlarmContactService(logger *zap.Logger, contacts storage.AlarmContactDAO, links storage.ApplicationAlarmContactDAO) *AlarmContactService {
	return &AlarmContactService{
		logger:   logger.Named("alarm-contact"),
		contacts: contacts,
		links:    links,
		now:      time.Now,
	}
}

// Add stores a new contact under the next free id
func (s *AlarmContactService) Add(ctx context.Context, input AlarmContactInput) (*model.AlarmContact, error) {
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContact, err)
	}
	bucket, err := model.TimeBucket(model.StepSecond, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maxID, err := s.contacts.MaxID(ctx)
	if err != nil {
		return nil, err
	}
	contact := &model.AlarmContact{
		ID:          maxID + 1,
		Email:       input.Email,
		PhoneNumber: input.PhoneNumber,
		RealName:    input.RealName,
		CreateTime:  bucket,
		UpdateTime:  bucket,
	}
	if err := s.contacts.Save(ctx, contact); err != nil {
		return nil, err
	}

	s.logger.Info("Alarm contact added", zap.Int("contact_id", contact.ID))
	return contact, nil
}

// Edit overwrites the non-empty fields of input on contact id
func (s *AlarmContactService) Edit(ctx context.Context, id int, input AlarmContactInput) error {
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContact, err)
	}
	bucket, err := model.TimeBucket(model.StepSecond, s.now())
	if err != nil {
		return err
	}

	return s.contacts.Update(ctx, &model.AlarmContact{
		ID:          id,
		Email:       input.Email,
		PhoneNumber: input.PhoneNumber,
		RealName:    input.RealName,
		UpdateTime:  bucket,
	})
}

// Delete removes a contact together with its application links
func (s *AlarmContactService) Delete(ctx context.Context, id int) error {
	contact, err := s.contacts.Get(ctx, id)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("alarm contact %d: %w", id, storage.ErrNotFound)
	}

	if err := s.links.DeleteByAlarmContactID(ctx, id); err != nil {
		return err
	}
	if err := s.contacts.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Alarm contact deleted", zap.Int("contact_id", id))
	return nil
}

// List pages through contacts matching keyword
func (s *AlarmContactService) List(ctx context.Context, keyword string, paging Paging) (*model.AlarmContactList, error) {
	limit, from := paging.Page()
	return s.contacts.List(ctx, keyword, limit, from)
}

// ApplicationAlarmContactService manages which contacts an application alarms
type ApplicationAlarmContactService struct {
	logger *zap.Logger
	links  storage.ApplicationAlarmContactDAO
}

// NewApplicationAlarmContactService creates the service
func NewApplicationAlarmContactService(logger *zap.Logger, links storage.ApplicationAlarmContactDAO) *ApplicationAlarmContactService {
	return &ApplicationAlarmContactService{
		logger: logger.Named("application-alarm-contact"),
		links:  links,
	}
}

// Set replaces every link of applicationID with contactIDs. An empty list
// clears the application's contacts.
func (s *ApplicationAlarmContactService) Set(ctx context.Context, applicationID int, contactIDs []int) error {
	if applicationID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidApplication, applicationID)
	}
	if err := s.links.ReplaceForApplication(ctx, applicationID, contactIDs); err != nil {
		return err
	}

	s.logger.Info("Application alarm contacts set",
		zap.Int("application_id", applicationID),
		zap.Ints("contact_ids", contactIDs))
	return nil
}

// ContactIDs returns the contacts linked to applicationID in link order
func (s *ApplicationAlarmContactService) ContactIDs(ctx context.Context, applicationID int) ([]int, error) {
	links, err := s.links.GetByApplicationID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.AlarmContactID)
	}
	return ids, nil
}
