package storage

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/model"
)

// GroupedTotalsLimit caps the number of groups returned by QueryGroupedTotals
const GroupedTotalsLimit = 100

// GroupedTotalsQuery sums reference metrics of one service per peer
type GroupedTotalsQuery struct {
	Step        model.Step
	StartBucket int64
	EndBucket   int64
	Source      model.MetricSource
	// FixedID is the service on the side opposite to GroupBy
	FixedID int
	GroupBy model.GroupRole
}

// BriefQuery pages through stored reference metrics
type BriefQuery struct {
	Step model.Step
	// The time range applies only when both bounds are set
	StartBucket int64
	EndBucket   int64
	// Average duration bounds apply independently when non-zero
	MinDuration         int64
	MaxDuration         int64
	Source              model.MetricSource
	FrontApplicationID  int
	BehindApplicationID int
	Order               model.QueryOrder
	Limit               int
	From                int
}

// ServiceReferenceMetricDAO reads and writes time-bucketed service reference metrics
type ServiceReferenceMetricDAO interface {
	Save(ctx context.Context, step model.Step, rows ...*model.ServiceReferenceMetricRow) error
	QueryGroupedTotals(ctx context.Context, q GroupedTotalsQuery) ([]*model.MetricAggregateRow, error)
	// GetFrontServices returns the callers of behindServiceID
	GetFrontServices(ctx context.Context, step model.Step, startBucket, endBucket int64, source model.MetricSource, behindServiceID int) ([]*model.MetricAggregateRow, error)
	// GetBehindServices returns the callees of frontServiceID
	GetBehindServices(ctx context.Context, step model.Step, startBucket, endBucket int64, source model.MetricSource, frontServiceID int) ([]*model.MetricAggregateRow, error)
	QueryBrief(ctx context.Context, q BriefQuery) (*model.ServiceReferenceMetricBrief, error)
}

// SQLServiceReferenceMetricDAO implements ServiceReferenceMetricDAO
type SQLServiceReferenceMetricDAO struct {
	logger *zap.Logger
	db     *DB
}

// NewServiceReferenceMetricDAO creates a service reference metric DAO
func NewServiceReferenceMetricDAO(logger *zap.Logger, db *DB) *SQLServiceReferenceMetricDAO {
	return &SQLServiceReferenceMetricDAO{logger: logger, db: db}
}

// MetricRowID is the storage id of a metric row within its step table
func MetricRowID(timeBucket int64, metricID string) string {
	return strconv.FormatInt(timeBucket, 10) + "_" + metricID
}

func stepTable(step model.Step) (string, error) {
	if step == "" {
		return "", ErrMissingStep
	}
	if _, err := model.ParseStep(string(step)); err != nil {
		return "", err
	}
	return PhysicalTable(step, ServiceReferenceMetricTable), nil
}

// Save implements ServiceReferenceMetricDAO.Save. Rows with an existing
// id replace the stored values.
func (d *SQLServiceReferenceMetricDAO) Save(ctx context.Context, step model.Step, rows ...*model.ServiceReferenceMetricRow) error {
	table, err := stepTable(step)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, metric_id, time_bucket, source_value,
			front_application_id, behind_application_id, front_service_id, behind_service_id,
			transaction_calls, transaction_error_calls, transaction_duration_sum,
			transaction_error_duration_sum, transaction_average_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			transaction_calls = excluded.transaction_calls,
			transaction_error_calls = excluded.transaction_error_calls,
			transaction_duration_sum = excluded.transaction_duration_sum,
			transaction_error_duration_sum = excluded.transaction_error_duration_sum,
			transaction_average_duration = excluded.transaction_average_duration`, table)

	for _, row := range rows {
		_, err := d.db.ExecContext(ctx, query,
			MetricRowID(row.TimeBucket, row.MetricID), row.MetricID, row.TimeBucket, int(row.Source),
			row.FrontApplicationID, row.BehindApplicationID, row.FrontServiceID, row.BehindServiceID,
			row.Calls, row.ErrorCalls, row.DurationSum, row.ErrorDurationSum, row.AverageDuration)
		if err != nil {
			return fmt.Errorf("failed to save service reference metric %s: %w", row.MetricID, err)
		}
	}
	return nil
}

// QueryGroupedTotals implements ServiceReferenceMetricDAO.QueryGroupedTotals.
// Groups are ordered by call count, busiest first, with the group key
// breaking ties.
func (d *SQLServiceReferenceMetricDAO) QueryGroupedTotals(ctx context.Context, q GroupedTotalsQuery) ([]*model.MetricAggregateRow, error) {
	table, err := stepTable(q.Step)
	if err != nil {
		return nil, err
	}

	var fixedColumn, groupColumn string
	switch q.GroupBy {
	case model.RoleFront:
		fixedColumn, groupColumn = "behind_service_id", "front_service_id"
	case model.RoleBehind:
		fixedColumn, groupColumn = "front_service_id", "behind_service_id"
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, q.GroupBy)
	}

	query := fmt.Sprintf(`
		SELECT %[2]s, SUM(transaction_calls), SUM(transaction_error_calls),
			SUM(transaction_duration_sum), SUM(transaction_error_duration_sum)
		FROM %[3]s
		WHERE time_bucket >= ? AND time_bucket <= ? AND source_value = ? AND %[1]s = ?
		GROUP BY %[2]s
		ORDER BY SUM(transaction_calls) DESC, %[2]s ASC
		LIMIT ?`, fixedColumn, groupColumn, table)

	rows, err := d.db.QueryContext(ctx, query, q.StartBucket, q.EndBucket, int(q.Source), q.FixedID, GroupedTotalsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped totals: %w", err)
	}
	defer rows.Close()

	var totals []*model.MetricAggregateRow
	for rows.Next() {
		agg := &model.MetricAggregateRow{}
		if err := rows.Scan(&agg.GroupKey, &agg.Calls, &agg.ErrorCalls, &agg.DurationSum, &agg.ErrorDurationSum); err != nil {
			return nil, fmt.Errorf("failed to scan grouped totals: %w", err)
		}
		if q.GroupBy == model.RoleFront {
			agg.Source, agg.Target = agg.GroupKey, q.FixedID
		} else {
			agg.Source, agg.Target = q.FixedID, agg.GroupKey
		}
		totals = append(totals, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return totals, nil
}

// GetFrontServices implements ServiceReferenceMetricDAO.GetFrontServices
func (d *SQLServiceReferenceMetricDAO) GetFrontServices(ctx context.Context, step model.Step, startBucket, endBucket int64, source model.MetricSource, behindServiceID int) ([]*model.MetricAggregateRow, error) {
	return d.QueryGroupedTotals(ctx, GroupedTotalsQuery{
		Step:        step,
		StartBucket: startBucket,
		EndBucket:   endBucket,
		Source:      source,
		FixedID:     behindServiceID,
		GroupBy:     model.RoleFront,
	})
}

// GetBehindServices implements ServiceReferenceMetricDAO.GetBehindServices
func (d *SQLServiceReferenceMetricDAO) GetBehindServices(ctx context.Context, step model.Step, startBucket, endBucket int64, source model.MetricSource, frontServiceID int) ([]*model.MetricAggregateRow, error) {
	return d.QueryGroupedTotals(ctx, GroupedTotalsQuery{
		Step:        step,
		StartBucket: startBucket,
		EndBucket:   endBucket,
		Source:      source,
		FixedID:     frontServiceID,
		GroupBy:     model.RoleBehind,
	})
}

var orderColumns = map[model.QueryOrder]string{
	model.OrderByTimeBucket:      "time_bucket",
	model.OrderByAverageDuration: "transaction_average_duration",
	model.OrderByCalls:           "transaction_calls",
	model.OrderByErrorCalls:      "transaction_error_calls",
}

// QueryBrief implements ServiceReferenceMetricDAO.QueryBrief
func (d *SQLServiceReferenceMetricDAO) QueryBrief(ctx context.Context, q BriefQuery) (*model.ServiceReferenceMetricBrief, error) {
	table, err := stepTable(q.Step)
	if err != nil {
		return nil, err
	}
	orderColumn, ok := orderColumns[q.Order]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrder, q.Order)
	}

	where := " WHERE source_value = ?"
	args := []any{int(q.Source)}
	if q.StartBucket != 0 && q.EndBucket != 0 {
		where += " AND time_bucket >= ? AND time_bucket <= ?"
		args = append(args, q.StartBucket, q.EndBucket)
	}
	if q.MinDuration != 0 {
		where += " AND transaction_average_duration >= ?"
		args = append(args, q.MinDuration)
	}
	if q.MaxDuration != 0 {
		where += " AND transaction_average_duration <= ?"
		args = append(args, q.MaxDuration)
	}
	if q.FrontApplicationID != 0 {
		where += " AND front_application_id = ?"
		args = append(args, q.FrontApplicationID)
	}
	if q.BehindApplicationID != 0 {
		where += " AND behind_application_id = ?"
		args = append(args, q.BehindApplicationID)
	}

	brief := &model.ServiceReferenceMetricBrief{}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&brief.Total); err != nil {
		return nil, fmt.Errorf("failed to count service reference metrics: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, transaction_average_duration, transaction_calls, transaction_error_calls,
			front_service_id, behind_service_id
		FROM %s%s
		ORDER BY %s DESC, id ASC
		LIMIT ? OFFSET ?`, table, where, orderColumn)
	rows, err := d.db.QueryContext(ctx, query, append(args, q.Limit, q.From)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query service reference metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m := &model.ServiceReferenceMetric{}
		if err := rows.Scan(&m.ID, &m.AverageDuration, &m.Calls, &m.ErrorCalls, &m.Front.ID, &m.Behind.ID); err != nil {
			return nil, fmt.Errorf("failed to scan service reference metric: %w", err)
		}
		brief.Metrics = append(brief.Metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return brief, nil
}
