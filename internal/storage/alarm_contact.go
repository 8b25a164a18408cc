package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/model"
)

// AlarmContactDAO defines the interface for alarm contact storage
type AlarmContactDAO interface {
	// MaxID returns the largest contact id, or 0 when there is none
	MaxID(ctx context.Context) (int, error)

	// Get returns nil when no contact has the id
	Get(ctx context.Context, id int) (*model.AlarmContact, error)

	Save(ctx context.Context, contact *model.AlarmContact) error

	// Update overwrites the non-empty fields of contact and bumps update_time.
	// It returns ErrNotFound when the contact does not exist.
	Update(ctx context.Context, contact *model.AlarmContact) error

	// List pages through contacts whose real name, email or phone number
	// contains keyword
	List(ctx context.Context, keyword string, limit, from int) (*model.AlarmContactList, error)

	LoadAll(ctx context.Context) ([]*model.AlarmContact, error)

	Delete(ctx context.Context, id int) error
}

// ApplicationAlarmContactDAO defines the interface for contact link storage
type ApplicationAlarmContactDAO interface {
	// GetByApplicationID returns the links of an application in insertion order
	GetByApplicationID(ctx context.Context, applicationID int) ([]*model.ApplicationAlarmContactLink, error)

	// ReplaceForApplication removes every link of the application and
	// inserts one per contact id, atomically
	ReplaceForApplication(ctx context.Context, applicationID int, contactIDs []int) error

	DeleteByAlarmContactID(ctx context.Context, contactID int) error
}

// AlarmDAO defines the interface for raised alarm storage
type AlarmDAO interface {
	Save(ctx context.Context, record *model.AlarmRecord) error
	// ListByApplication returns the newest alarms of an application first
	ListByApplication(ctx context.Context, applicationID, limit int) ([]*model.AlarmRecord, error)
}

// SQLAlarmContactDAO implements AlarmContactDAO
type SQLAlarmContactDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewAlarmContactDAO creates an alarm contact DAO
func NewAlarmContactDAO(logger *zap.Logger, db *DB) *SQLAlarmContactDAO {
	return &SQLAlarmContactDAO{logger: logger, db: db}
}

const alarmContactColumns = "id, email, phone_number, real_name, status, create_time, update_time"

func scanAlarmContact(scan func(dest ...any) error) (*model.AlarmContact, error) {
	var (
		c                      model.AlarmContact
		email, phone, realName sql.NullString
	)
	if err := scan(&c.ID, &email, &phone, &realName, &c.Status, &c.CreateTime, &c.UpdateTime); err != nil {
		return nil, err
	}
	c.Email = email.String
	c.PhoneNumber = phone.String
	c.RealName = realName.String
	return &c, nil
}

// MaxID implements AlarmContactDAO.MaxID
func (d *SQLAlarmContactDAO) MaxID(ctx context.Context) (int, error) {
	var id sql.NullInt64
	if err := d.db.QueryRowContext(ctx, "SELECT MAX(id) FROM alarm_contact").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get max alarm contact id: %w", err)
	}
	return int(id.Int64), nil
}

// Get implements AlarmContactDAO.Get
func (d *SQLAlarmContactDAO) Get(ctx context.Context, id int) (*model.AlarmContact, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+alarmContactColumns+" FROM alarm_contact WHERE id = ?", id)
	contact, err := scanAlarmContact(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alarm contact %d: %w", id, err)
	}
	return contact, nil
}

// Save implements AlarmContactDAO.Save
func (d *SQLAlarmContactDAO) Save(ctx context.Context, c *model.AlarmContact) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO alarm_contact ("+alarmContactColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.ID, nullString(c.Email), nullString(c.PhoneNumber), nullString(c.RealName), c.Status, c.CreateTime, c.UpdateTime)
	if err != nil {
		return fmt.Errorf("failed to save alarm contact %d: %w", c.ID, err)
	}
	return nil
}

// Update implements AlarmContactDAO.Update
func (d *SQLAlarmContactDAO) Update(ctx context.Context, c *model.AlarmContact) error {
	sets := []string{"update_time = ?"}
	args := []any{c.UpdateTime}
	if c.Email != "" {
		sets = append(sets, "email = ?")
		args = append(args, c.Email)
	}
	if c.PhoneNumber != "" {
		sets = append(sets, "phone_number = ?")
		args = append(args, c.PhoneNumber)
	}
	if c.RealName != "" {
		sets = append(sets, "real_name = ?")
		args = append(args, c.RealName)
	}
	args = append(args, c.ID)

	result, err := d.db.ExecContext(ctx, "UPDATE alarm_contact SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update alarm contact %d: %w", c.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alarm contact %d: %w", c.ID, ErrNotFound)
	}
	return nil
}

// List implements AlarmContactDAO.List
func (d *SQLAlarmContactDAO) List(ctx context.Context, keyword string, limit, from int) (*model.AlarmContactList, error) {
	where := ""
	var args []any
	if keyword != "" {
		where = " WHERE real_name LIKE ? OR email LIKE ? OR phone_number LIKE ?"
		pattern := "%" + keyword + "%"
		args = append(args, pattern, pattern, pattern)
	}

	list := &model.AlarmContactList{}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alarm_contact"+where, args...).Scan(&list.Total); err != nil {
		return nil, fmt.Errorf("failed to count alarm contacts: %w", err)
	}

	items, err := d.query(ctx, "SELECT "+alarmContactColumns+" FROM alarm_contact"+where+" ORDER BY id LIMIT ? OFFSET ?",
		append(args, limit, from)...)
	if err != nil {
		return nil, err
	}
	list.Items = items
	return list, nil
}

// LoadAll implements AlarmContactDAO.LoadAll
func (d *SQLAlarmContactDAO) LoadAll(ctx context.Context) ([]*model.AlarmContact, error) {
	return d.query(ctx, "SELECT "+alarmContactColumns+" FROM alarm_contact ORDER BY id")
}

// Delete implements AlarmContactDAO.Delete
func (d *SQLAlarmContactDAO) Delete(ctx context.Context, id int) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM alarm_contact WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete alarm contact %d: %w", id, err)
	}
	return nil
}

func (d *SQLAlarmContactDAO) query(ctx context.Context, query string, args ...any) ([]*model.AlarmContact, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*model.AlarmContact
	for rows.Next() {
		contact, err := scanAlarmContact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return contacts, nil
}

// SQLApplicationAlarmContactDAO implements ApplicationAlarmContactDAO
type SQLApplicationAlarmContactDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewApplicationAlarmContactDAO creates a contact link DAO
func NewApplicationAlarmContactDAO(logger *zap.Logger, db *DB) *SQLApplicationAlarmContactDAO {
	return &SQLApplicationAlarmContactDAO{logger: logger, db: db}
}

// GetByApplicationID implements ApplicationAlarmContactDAO.GetByApplicationID
func (d *SQLApplicationAlarmContactDAO) GetByApplicationID(ctx context.Context, applicationID int) ([]*model.ApplicationAlarmContactLink, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, application_id, alarm_contact_id, create_time, update_time
		FROM application_alarm_contact
		WHERE application_id = ?
		ORDER BY create_time, seq`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact links of application %d: %w", applicationID, err)
	}
	defer rows.Close()

	var links []*model.ApplicationAlarmContactLink
	for rows.Next() {
		link := &model.ApplicationAlarmContactLink{}
		if err := rows.Scan(&link.ID, &link.ApplicationID, &link.AlarmContactID, &link.CreateTime, &link.UpdateTime); err != nil {
			return nil, fmt.Errorf("failed to scan contact link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return links, nil
}

// ReplaceForApplication implements ApplicationAlarmContactDAO.ReplaceForApplication
func (d *SQLApplicationAlarmContactDAO) ReplaceForApplication(ctx context.Context, applicationID int, contactIDs []int) error {
	now, err := model.TimeBucket(model.StepSecond, time.Now())
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM application_alarm_contact WHERE application_id = ?", applicationID); err != nil {
		return fmt.Errorf("failed to delete contact links of application %d: %w", applicationID, err)
	}
	for i, contactID := range contactIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO application_alarm_contact (id, application_id, alarm_contact_id, seq, create_time, update_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), applicationID, contactID, i, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert contact link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact links: %w", err)
	}
	d.logger.Debug("Replaced alarm contacts",
		zap.Int("application_id", applicationID),
		zap.Int("contacts", len(contactIDs)))
	return nil
}

// DeleteByAlarmContactID implements ApplicationAlarmContactDAO.DeleteByAlarmContactID
func (d *SQLApplicationAlarmContactDAO) DeleteByAlarmContactID(ctx context.Context, contactID int) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM application_alarm_contact WHERE alarm_contact_id = ?", contactID); err != nil {
		return fmt.Errorf("failed to delete contact links of contact %d: %w", contactID, err)
	}
	return nil
}

// SQLAlarmDAO implements AlarmDAO
type SQLAlarmDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewAlarmDAO creates an alarm DAO
func NewAlarmDAO(logger *zap.Logger, db *DB) *SQLAlarmDAO {
	return &SQLAlarmDAO{logger: logger, db: db}
}

// Save implements AlarmDAO.Save. A record without an id gets a new one.
func (d *SQLAlarmDAO) Save(ctx context.Context, r *model.AlarmRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO alarm (id, kind, alarm_type, application_id, service_id, instance_id, alarm_content, time_bucket)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET alarm_content = excluded.alarm_content, time_bucket = excluded.time_bucket`,
		r.ID, string(r.Kind), string(r.AlarmType), r.ApplicationID, r.ServiceID, r.InstanceID, r.AlarmContent, r.TimeBucket)
	if err != nil {
		return fmt.Errorf("failed to save alarm %s: %w", r.ID, err)
	}
	return nil
}

// ListByApplication implements AlarmDAO.ListByApplication
func (d *SQLAlarmDAO) ListByApplication(ctx context.Context, applicationID, limit int) ([]*model.AlarmRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, kind, alarm_type, application_id, service_id, instance_id, alarm_content, time_bucket
		FROM alarm
		WHERE application_id = ?
		ORDER BY time_bucket DESC, id
		LIMIT ?`, applicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	var records []*model.AlarmRecord
	for rows.Next() {
		var (
			r         model.AlarmRecord
			kind, typ string
			content   sql.NullString
		)
		if err := rows.Scan(&r.ID, &kind, &typ, &r.ApplicationID, &r.ServiceID, &r.InstanceID, &content, &r.TimeBucket); err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		r.Kind = model.AlarmKind(kind)
		r.AlarmType = model.AlarmType(typ)
		r.AlarmContent = content.String
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
