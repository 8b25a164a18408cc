package query

import (
	"context"

	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// DefaultAlarmLimit bounds RecentAlarms when no limit is given
const DefaultAlarmLimit = 50

// CatalogService lists registered applications, services and raised alarms
type CatalogService struct {
	applications storage.ApplicationDAO
	services     storage.ServiceNameDAO
	alarms       storage.AlarmDAO
}

// NewCatalogService creates the service
func NewCatalogService(applications storage.ApplicationDAO, services storage.ServiceNameDAO, alarms storage.AlarmDAO) *CatalogService {
	return &CatalogService{applications: applications, services: services, alarms: alarms}
}

// Applications pages through real applications whose code matches code
func (s *CatalogService) Applications(ctx context.Context, code string, paging Paging) (*model.ApplicationList, error) {
	limit, from := paging.Page()
	return s.applications.List(ctx, code, limit, from)
}

// SearchServices returns up to topN services whose name contains keyword.
// A zero applicationID searches every application.
func (s *CatalogService) SearchServices(ctx context.Context, keyword string, applicationID, topN int) ([]model.ServiceInfo, error) {
	services, err := s.services.Search(ctx, keyword, applicationID, topN)
	if err != nil {
		return nil, err
	}
	infos := make([]model.ServiceInfo, 0, len(services))
	for _, service := range services {
		infos = append(infos, model.ServiceInfo{
			ID:            service.ID,
			Name:          service.Name,
			ApplicationID: service.ApplicationID,
		})
	}
	return infos, nil
}

// RecentAlarms returns the newest alarms raised for an application
func (s *CatalogService) RecentAlarms(ctx context.Context, applicationID, limit int) ([]*model.AlarmRecord, error) {
	if limit <= 0 {
		limit = DefaultAlarmLimit
	}
	return s.alarms.ListByApplication(ctx, applicationID, limit)
}
