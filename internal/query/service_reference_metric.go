package query

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/cache"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// ServiceReferenceMetricCondition filters a brief listing of service
// references. Zero bounds and ids are not applied.
type ServiceReferenceMetricCondition struct {
	Duration                      *Duration
	MinTransactionAverageDuration int64
	MaxTransactionAverageDuration int64
	FrontApplicationID            int
	BehindApplicationID           int
	Order                         model.QueryOrder
	Paging                        Paging
}

// ServiceTopology is the neighbourhood of one service: who calls it and
// whom it calls
type ServiceTopology struct {
	Nodes   []model.ServiceInfo         `json:"nodes"`
	Callers []*model.MetricAggregateRow `json:"callers"`
	Callees []*model.MetricAggregateRow `json:"callees"`
}

// ServiceReferenceMetricService answers service reference queries with
// names resolved from the caches
type ServiceReferenceMetricService struct {
	logger       *zap.Logger
	references   storage.ServiceReferenceMetricDAO
	applications cache.ApplicationCache
	services     cache.ServiceNameCache
}

// NewServiceReferenceMetricService creates the service
func NewServiceReferenceMetricService(logger *zap.Logger, references storage.ServiceReferenceMetricDAO, applications cache.ApplicationCache, services cache.ServiceNameCache) *ServiceReferenceMetricService {
	return &ServiceReferenceMetricService{
		logger:       logger.Named("service-reference-metric"),
		references:   references,
		applications: applications,
		services:     services,
	}
}

// Brief lists callee-observed references matching condition. Service and
// application names that miss the caches are left empty.
func (s *ServiceReferenceMetricService) Brief(ctx context.Context, condition ServiceReferenceMetricCondition) (*model.ServiceReferenceMetricBrief, error) {
	if condition.Duration == nil {
		return nil, ErrMissingDuration
	}
	start, end, err := condition.Duration.Buckets()
	if err != nil {
		return nil, err
	}

	limit, from := condition.Paging.Page()
	brief, err := s.references.QueryBrief(ctx, storage.BriefQuery{
		Step:                condition.Duration.Step,
		StartBucket:         start,
		EndBucket:           end,
		MinDuration:         condition.MinTransactionAverageDuration,
		MaxDuration:         condition.MaxTransactionAverageDuration,
		Source:              model.MetricSourceCallee,
		FrontApplicationID:  condition.FrontApplicationID,
		BehindApplicationID: condition.BehindApplicationID,
		Order:               condition.Order,
		Limit:               limit,
		From:                from,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query service reference brief: %w", err)
	}

	for _, metric := range brief.Metrics {
		s.resolve(ctx, &metric.Front)
		s.resolve(ctx, &metric.Behind)
	}
	return brief, nil
}

// Topology returns the callers and callees of serviceID within duration
func (s *ServiceReferenceMetricService) Topology(ctx context.Context, serviceID int, duration Duration) (*ServiceTopology, error) {
	start, end, err := duration.Buckets()
	if err != nil {
		return nil, err
	}

	callers, err := s.references.GetFrontServices(ctx, duration.Step, start, end, model.MetricSourceCallee, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query callers of service %d: %w", serviceID, err)
	}
	callees, err := s.references.GetBehindServices(ctx, duration.Step, start, end, model.MetricSourceCallee, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query callees of service %d: %w", serviceID, err)
	}

	topology := &ServiceTopology{Callers: callers, Callees: callees}
	seen := make(map[int]bool)
	addNode := func(id int) {
		if seen[id] {
			return
		}
		seen[id] = true
		info := model.ServiceInfo{ID: id}
		s.resolve(ctx, &info)
		topology.Nodes = append(topology.Nodes, info)
	}

	addNode(serviceID)
	for _, row := range callers {
		addNode(row.GroupKey)
	}
	for _, row := range callees {
		addNode(row.GroupKey)
	}
	return topology, nil
}

func (s *ServiceReferenceMetricService) resolve(ctx context.Context, info *model.ServiceInfo) {
	service, ok := s.services.Get(ctx, info.ID)
	if !ok {
		s.logger.Debug("Service name not cached", zap.Int("service_id", info.ID))
		return
	}
	info.Name = service.Name
	info.ApplicationID = service.ApplicationID

	if app, ok := s.applications.GetApplicationByID(ctx, service.ApplicationID); ok {
		info.ApplicationName = app.Code
	}
}
