package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/model"
)

// ApplicationDAO reads and writes registered applications
type ApplicationDAO interface {
	// Get returns nil when no application has the id
	Get(ctx context.Context, id int) (*model.Application, error)
	Save(ctx context.Context, app *model.Application) error
	// List pages through real applications, optionally filtered by code
	List(ctx context.Context, code string, limit, from int) (*model.ApplicationList, error)
}

// ServiceNameDAO reads and writes registered service names
type ServiceNameDAO interface {
	// Get returns nil when no service has the id
	Get(ctx context.Context, id int) (*model.ServiceName, error)
	Save(ctx context.Context, service *model.ServiceName) error
	// Search returns up to topN services whose name contains keyword
	Search(ctx context.Context, keyword string, applicationID, topN int) ([]*model.ServiceName, error)
}

// InstanceDAO reads and writes registered instances
type InstanceDAO interface {
	// Get returns nil when no instance has the id
	Get(ctx context.Context, id int) (*model.Instance, error)
	Save(ctx context.Context, instance *model.Instance) error
}

// SQLApplicationDAO implements ApplicationDAO
type SQLApplicationDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewApplicationDAO creates an application DAO
func NewApplicationDAO(logger *zap.Logger, db *DB) *SQLApplicationDAO {
	return &SQLApplicationDAO{logger: logger, db: db}
}

// Get implements ApplicationDAO.Get
func (d *SQLApplicationDAO) Get(ctx context.Context, id int) (*model.Application, error) {
	var app model.Application
	err := d.db.QueryRowContext(ctx,
		`SELECT id, code, is_address, address_id FROM application WHERE id = ?`, id).
		Scan(&app.ID, &app.Code, &app.IsAddress, &app.AddressID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get application %d: %w", id, err)
	}
	return &app, nil
}

// Save implements ApplicationDAO.Save
func (d *SQLApplicationDAO) Save(ctx context.Context, app *model.Application) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO application (id, code, is_address, address_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET code = excluded.code, is_address = excluded.is_address, address_id = excluded.address_id`,
		app.ID, app.Code, app.IsAddress, app.AddressID)
	if err != nil {
		return fmt.Errorf("failed to save application %d: %w", app.ID, err)
	}
	return nil
}

// List implements ApplicationDAO.List. Address applications and the
// placeholder application are excluded.
func (d *SQLApplicationDAO) List(ctx context.Context, code string, limit, from int) (*model.ApplicationList, error) {
	where := " WHERE is_address = ? AND id <> ?"
	args := []any{false, model.NoneApplicationID}
	if code != "" {
		where += " AND code = ?"
		args = append(args, code)
	}

	list := &model.ApplicationList{}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM application"+where, args...).Scan(&list.Total); err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT id, code, is_address, address_id FROM application"+where+" ORDER BY id LIMIT ? OFFSET ?",
		append(args, limit, from)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		app := &model.Application{}
		if err := rows.Scan(&app.ID, &app.Code, &app.IsAddress, &app.AddressID); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		list.Items = append(list.Items, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return list, nil
}

// SQLServiceNameDAO implements ServiceNameDAO
type SQLServiceNameDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewServiceNameDAO creates a service name DAO
func NewServiceNameDAO(logger *zap.Logger, db *DB) *SQLServiceNameDAO {
	return &SQLServiceNameDAO{logger: logger, db: db}
}

// Get implements ServiceNameDAO.Get
func (d *SQLServiceNameDAO) Get(ctx context.Context, id int) (*model.ServiceName, error) {
	var s model.ServiceName
	err := d.db.QueryRowContext(ctx,
		`SELECT id, application_id, name, src_span_type FROM service_name WHERE id = ?`, id).
		Scan(&s.ID, &s.ApplicationID, &s.Name, &s.SrcSpanType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service name %d: %w", id, err)
	}
	return &s, nil
}

// Save implements ServiceNameDAO.Save
func (d *SQLServiceNameDAO) Save(ctx context.Context, s *model.ServiceName) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO service_name (id, application_id, name, src_span_type) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET application_id = excluded.application_id, name = excluded.name, src_span_type = excluded.src_span_type`,
		s.ID, s.ApplicationID, s.Name, s.SrcSpanType)
	if err != nil {
		return fmt.Errorf("failed to save service name %d: %w", s.ID, err)
	}
	return nil
}

// Search implements ServiceNameDAO.Search
func (d *SQLServiceNameDAO) Search(ctx context.Context, keyword string, applicationID, topN int) ([]*model.ServiceName, error) {
	query := "SELECT id, application_id, name, src_span_type FROM service_name WHERE 1 = 1"
	var args []any
	if keyword != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+keyword+"%")
	}
	if applicationID != 0 {
		query += " AND application_id = ?"
		args = append(args, applicationID)
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, topN)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search service names: %w", err)
	}
	defer rows.Close()

	var services []*model.ServiceName
	for rows.Next() {
		s := &model.ServiceName{}
		if err := rows.Scan(&s.ID, &s.ApplicationID, &s.Name, &s.SrcSpanType); err != nil {
			return nil, fmt.Errorf("failed to scan service name: %w", err)
		}
		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return services, nil
}

// SQLInstanceDAO implements InstanceDAO
type SQLInstanceDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewInstanceDAO creates an instance DAO
func NewInstanceDAO(logger *zap.Logger, db *DB) *SQLInstanceDAO {
	return &SQLInstanceDAO{logger: logger, db: db}
}

// Get implements InstanceDAO.Get
func (d *SQLInstanceDAO) Get(ctx context.Context, id int) (*model.Instance, error) {
	var inst model.Instance
	var osInfo sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT id, application_id, agent_uuid, register_time, heartbeat_time, os_info
		FROM instance WHERE id = ?`, id).
		Scan(&inst.ID, &inst.ApplicationID, &inst.AgentUUID, &inst.RegisterTime, &inst.HeartbeatTime, &osInfo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get instance %d: %w", id, err)
	}
	inst.OsInfo = osInfo.String
	return &inst, nil
}

// Save implements InstanceDAO.Save
func (d *SQLInstanceDAO) Save(ctx context.Context, inst *model.Instance) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO instance (id, application_id, agent_uuid, register_time, heartbeat_time, os_info)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET heartbeat_time = excluded.heartbeat_time, os_info = excluded.os_info`,
		inst.ID, inst.ApplicationID, inst.AgentUUID, inst.RegisterTime, inst.HeartbeatTime,
		sql.NullString{String: inst.OsInfo, Valid: inst.OsInfo != ""})
	if err != nil {
		return fmt.Errorf("failed to save instance %d: %w", inst.ID, err)
	}
	return nil
}
