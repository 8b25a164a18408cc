package query

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/larry091001/incubator-skywalking/internal/cache"
	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/storage"
	"github.com/larry091001/incubator-skywalking/internal/testutil"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), zap.NewNop(), storage.DriverSQLite, testutil.SQLiteDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func reference(bucket int64, source model.MetricSource, front, behind int, calls, durationSum int64) *model.ServiceReferenceMetricRow {
	return &model.ServiceReferenceMetricRow{
		MetricID:            fmt.Sprintf("%d_%d_%d", front, behind, source),
		TimeBucket:          bucket,
		Source:              source,
		FrontApplicationID:  front / 10,
		BehindApplicationID: behind / 10,
		FrontServiceID:      front,
		BehindServiceID:     behind,
		Calls:               calls,
		DurationSum:         durationSum,
		AverageDuration:     durationSum / calls,
	}
}

func seedRegistry(t *testing.T, db *storage.DB) {
	t.Helper()
	ctx := context.Background()

	applications := storage.NewApplicationDAO(zap.NewNop(), db)
	for _, app := range []*model.Application{
		{ID: 2, Code: "OrderService"},
		{ID: 3, Code: "PaymentService"},
		{ID: 4, Code: "InventoryService"},
		{ID: 5, Code: "10.0.0.7:3306", IsAddress: true},
	} {
		require.NoError(t, applications.Save(ctx, app))
	}

	services := storage.NewServiceNameDAO(zap.NewNop(), db)
	for _, s := range []*model.ServiceName{
		{ID: 21, ApplicationID: 2, Name: "createOrder"},
		{ID: 22, ApplicationID: 2, Name: "cancelOrder"},
		{ID: 31, ApplicationID: 3, Name: "pay"},
		{ID: 41, ApplicationID: 4, Name: "reserve"},
	} {
		require.NoError(t, services.Save(ctx, s))
	}

	references := storage.NewServiceReferenceMetricDAO(zap.NewNop(), db)
	callee := model.MetricSourceCallee
	require.NoError(t, references.Save(ctx, model.StepMinute,
		reference(201711081010, callee, 21, 31, 10, 1000),
		reference(201711081011, callee, 21, 31, 20, 4000),
		reference(201711081010, callee, 31, 41, 30, 3000),
		reference(201711081012, callee, 31, 42, 40, 12000),
		reference(201711081011, model.MetricSourceCaller, 21, 31, 99, 9900),
		reference(201711081030, callee, 22, 31, 5, 500),
	))
}

func newReferenceService(t *testing.T, db *storage.DB) *ServiceReferenceMetricService {
	t.Helper()
	applications := cache.NewApplicationCache(zap.NewNop(), storage.NewApplicationDAO(zap.NewNop(), db), 16, nil, 0)
	services := cache.NewServiceNameCache(zap.NewNop(), storage.NewServiceNameDAO(zap.NewNop(), db), 16, nil, 0)
	return NewServiceReferenceMetricService(zaptest.NewLogger(t), storage.NewServiceReferenceMetricDAO(zap.NewNop(), db), applications, services)
}

var tenMinutes = Duration{Start: "2017-11-08 1010", End: "2017-11-08 1012", Step: model.StepMinute}

func TestDuration_Buckets(t *testing.T) {
	tests := []struct {
		duration   Duration
		start, end int64
	}{
		{tenMinutes, 201711081010, 201711081012},
		{Duration{Start: "2017-11-08 101305", End: "2017-11-08 101310", Step: model.StepSecond}, 20171108101305, 20171108101310},
		{Duration{Start: "2017-11-08 10", End: "2017-11-08 12", Step: model.StepHour}, 2017110810, 2017110812},
		{Duration{Start: "2017-11-01", End: "2017-11-08", Step: model.StepDay}, 20171101, 20171108},
		{Duration{Start: "2017-01", End: "2017-11", Step: model.StepMonth}, 201701, 201711},
	}
	for _, tt := range tests {
		start, end, err := tt.duration.Buckets()
		require.NoError(t, err, tt.duration.Step)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}

	_, _, err := Duration{Start: "2017-11-08", End: "2017-11-08", Step: model.StepMinute}.Buckets()
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, _, err = Duration{Start: "2017-11-08 1012", End: "2017-11-08 1010", Step: model.StepMinute}.Buckets()
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, _, err = Duration{Start: "2017", End: "2017", Step: "year"}.Buckets()
	assert.ErrorIs(t, err, model.ErrUnknownStep)
}

func TestPaging_Page(t *testing.T) {
	tests := []struct {
		paging      Paging
		limit, from int
	}{
		{Paging{PageNum: 1, PageSize: 10}, 10, 0},
		{Paging{PageNum: 3, PageSize: 10}, 10, 20},
		{Paging{}, DefaultPageSize, 0},
		{Paging{PageNum: -1, PageSize: 5}, 5, 0},
	}
	for _, tt := range tests {
		limit, from := tt.paging.Page()
		assert.Equal(t, tt.limit, limit)
		assert.Equal(t, tt.from, from)
	}
}

func TestServiceReferenceMetricService_Brief(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seedRegistry(t, db)
	s := newReferenceService(t, db)

	_, err := s.Brief(ctx, ServiceReferenceMetricCondition{})
	assert.ErrorIs(t, err, ErrMissingDuration)

	duration := tenMinutes
	brief, err := s.Brief(ctx, ServiceReferenceMetricCondition{
		Duration: &duration,
		Order:    model.OrderByCalls,
		Paging:   Paging{PageNum: 1, PageSize: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, brief.Total, "caller rows and rows outside the window are excluded")
	require.Len(t, brief.Metrics, 2)

	first := brief.Metrics[0]
	assert.Equal(t, "201711081012_31_42_1", first.ID)
	assert.Equal(t, int64(40), first.Calls)
	assert.Equal(t, int64(300), first.AverageDuration)
	assert.Equal(t, model.ServiceInfo{ID: 31, Name: "pay", ApplicationID: 3, ApplicationName: "PaymentService"}, first.Front)
	assert.Equal(t, model.ServiceInfo{ID: 42}, first.Behind, "unregistered services keep only their id")

	assert.Equal(t, model.ServiceInfo{ID: 41, Name: "reserve", ApplicationID: 4, ApplicationName: "InventoryService"}, brief.Metrics[1].Behind)

	brief, err = s.Brief(ctx, ServiceReferenceMetricCondition{
		Duration: &duration,
		Order:    model.OrderByCalls,
		Paging:   Paging{PageNum: 2, PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, brief.Metrics, 2)
	assert.Equal(t, int64(20), brief.Metrics[0].Calls)
	assert.Equal(t, model.ServiceInfo{ID: 21, Name: "createOrder", ApplicationID: 2, ApplicationName: "OrderService"}, brief.Metrics[0].Front)

	brief, err = s.Brief(ctx, ServiceReferenceMetricCondition{
		Duration:                      &duration,
		MinTransactionAverageDuration: 150,
		FrontApplicationID:            2,
		Order:                         model.OrderByAverageDuration,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, brief.Total)
	require.Len(t, brief.Metrics, 1)
	assert.Equal(t, "201711081011_21_31_1", brief.Metrics[0].ID)

	bad := Duration{Start: "yesterday", End: "today", Step: model.StepMinute}
	_, err = s.Brief(ctx, ServiceReferenceMetricCondition{Duration: &bad})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestServiceReferenceMetricService_Topology(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seedRegistry(t, db)
	s := newReferenceService(t, db)

	topology, err := s.Topology(ctx, 31, tenMinutes)
	require.NoError(t, err)

	require.Len(t, topology.Callers, 1)
	assert.Equal(t, 21, topology.Callers[0].GroupKey)
	assert.Equal(t, int64(30), topology.Callers[0].Calls)
	assert.Equal(t, int64(5000), topology.Callers[0].DurationSum)

	require.Len(t, topology.Callees, 2)
	assert.Equal(t, 42, topology.Callees[0].GroupKey)
	assert.Equal(t, 41, topology.Callees[1].GroupKey)

	var ids []int
	for _, node := range topology.Nodes {
		ids = append(ids, node.ID)
	}
	assert.Equal(t, []int{31, 21, 42, 41}, ids)
	assert.Equal(t, "pay", topology.Nodes[0].Name)
	assert.Equal(t, "OrderService", topology.Nodes[1].ApplicationName)
	assert.Empty(t, topology.Nodes[2].Name)
}

func newContactServices(t *testing.T, db *storage.DB) (*AlarmContactService, *ApplicationAlarmContactService) {
	t.Helper()
	links := storage.NewApplicationAlarmContactDAO(zap.NewNop(), db)
	contacts := NewAlarmContactService(zaptest.NewLogger(t), storage.NewAlarmContactDAO(zap.NewNop(), db), links)
	contacts.now = func() time.Time { return time.Date(2017, 11, 8, 10, 13, 5, 0, time.UTC) }
	return contacts, NewApplicationAlarmContactService(zaptest.NewLogger(t), links)
}

func TestAlarmContactService_Add(t *testing.T) {
	ctx := context.Background()
	contacts, _ := newContactServices(t, openDB(t))

	first, err := contacts.Add(ctx, AlarmContactInput{Email: "ops@example.com", RealName: "ops"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, int64(20171108101305), first.CreateTime)
	assert.Equal(t, first.CreateTime, first.UpdateTime)

	second, err := contacts.Add(ctx, AlarmContactInput{PhoneNumber: "13800000000"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)

	_, err = contacts.Add(ctx, AlarmContactInput{Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidContact)

	list, err := contacts.List(ctx, "", Paging{})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
}

func TestAlarmContactService_AddAllocatesUniqueIDs(t *testing.T) {
	ctx := context.Background()
	contacts, _ := newContactServices(t, openDB(t))

	var (
		mu  sync.Mutex
		ids = make(map[int]bool)
		wg  sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := contacts.Add(ctx, AlarmContactInput{RealName: fmt.Sprintf("user-%d", i)})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[c.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, 10)
	for id := 1; id <= 10; id++ {
		assert.True(t, ids[id], "id %d", id)
	}
}

func TestAlarmContactService_Edit(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	contacts, _ := newContactServices(t, db)

	c, err := contacts.Add(ctx, AlarmContactInput{Email: "ops@example.com", RealName: "ops"})
	require.NoError(t, err)

	contacts.now = func() time.Time { return time.Date(2017, 11, 9, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, contacts.Edit(ctx, c.ID, AlarmContactInput{RealName: "on-call"}))

	stored, err := storage.NewAlarmContactDAO(zap.NewNop(), db).Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "on-call", stored.RealName)
	assert.Equal(t, "ops@example.com", stored.Email, "empty fields are left untouched")
	assert.Equal(t, int64(20171109000000), stored.UpdateTime)
	assert.Equal(t, int64(20171108101305), stored.CreateTime)

	assert.ErrorIs(t, contacts.Edit(ctx, 404, AlarmContactInput{RealName: "ghost"}), storage.ErrNotFound)
	assert.ErrorIs(t, contacts.Edit(ctx, c.ID, AlarmContactInput{Email: "@"}), ErrInvalidContact)
}

func TestAlarmContactService_DeleteRemovesLinks(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	contacts, links := newContactServices(t, db)

	for _, name := range []string{"ops", "dev"} {
		_, err := contacts.Add(ctx, AlarmContactInput{Email: name + "@example.com"})
		require.NoError(t, err)
	}
	require.NoError(t, links.Set(ctx, 2, []int{1, 2}))
	require.NoError(t, links.Set(ctx, 3, []int{1}))

	require.NoError(t, contacts.Delete(ctx, 1))

	ids, err := links.ContactIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids)
	ids, err = links.ContactIDs(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, ids)

	stored, err := storage.NewAlarmContactDAO(zap.NewNop(), db).Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.ErrorIs(t, contacts.Delete(ctx, 1), storage.ErrNotFound)
}

func TestApplicationAlarmContactService_Set(t *testing.T) {
	ctx := context.Background()
	_, links := newContactServices(t, openDB(t))

	assert.ErrorIs(t, links.Set(ctx, 0, []int{1}), ErrInvalidApplication)

	require.NoError(t, links.Set(ctx, 2, []int{3, 1, 2}))
	ids, err := links.ContactIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, ids)

	require.NoError(t, links.Set(ctx, 2, []int{2}))
	ids, err = links.ContactIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids, "links are replaced wholesale")

	require.NoError(t, links.Set(ctx, 2, nil))
	ids, err = links.ContactIDs(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCatalogService(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seedRegistry(t, db)

	alarms := storage.NewAlarmDAO(zap.NewNop(), db)
	for i := 0; i < 3; i++ {
		record := model.NewApplicationAlarm(2, model.AlarmTypeSlowRTT, fmt.Sprintf("alarm %d", i))
		record.TimeBucket = 201711081010 + int64(i)
		require.NoError(t, alarms.Save(ctx, &record))
	}

	catalog := NewCatalogService(storage.NewApplicationDAO(zap.NewNop(), db), storage.NewServiceNameDAO(zap.NewNop(), db), alarms)

	apps, err := catalog.Applications(ctx, "", Paging{PageNum: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, apps.Total, "address applications are not listed")
	require.Len(t, apps.Items, 2)
	assert.Equal(t, "OrderService", apps.Items[0].Code)

	services, err := catalog.SearchServices(ctx, "Order", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.ServiceInfo{
		{ID: 21, Name: "createOrder", ApplicationID: 2},
		{ID: 22, Name: "cancelOrder", ApplicationID: 2},
	}, services)

	recent, err := catalog.RecentAlarms(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "alarm 2", recent[0].AlarmContent)

	recent, err = catalog.RecentAlarms(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestProvider(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seedRegistry(t, db)

	manager := module.NewManager(zaptest.NewLogger(t))
	require.NoError(t, manager.Register(ModuleName, NewProvider()))
	require.NoError(t, manager.Register(cache.ModuleName, cache.NewProvider(config.CacheConfig{RefreshSpec: "@every 5m"})))
	require.NoError(t, manager.Register(storage.ModuleName, storage.NewProvider(config.StorageConfig{Driver: storage.DriverSQLite}, storage.WithDB(db))))
	require.NoError(t, manager.Register(config.ModuleName, config.NewProvider(config.ModuleConfig{}, config.AlarmConfig{})))
	require.NoError(t, manager.Init(ctx))
	defer manager.Shutdown(ctx)

	references, err := module.Resolve[*ServiceReferenceMetricService](manager, ModuleName, ServiceReferenceMetricServiceToken)
	require.NoError(t, err)
	duration := tenMinutes
	brief, err := references.Brief(ctx, ServiceReferenceMetricCondition{Duration: &duration})
	require.NoError(t, err)
	assert.Equal(t, 4, brief.Total)

	_, err = module.Resolve[*AlarmContactService](manager, ModuleName, AlarmContactServiceToken)
	require.NoError(t, err)
	_, err = module.Resolve[*ApplicationAlarmContactService](manager, ModuleName, ApplicationAlarmContactServiceToken)
	require.NoError(t, err)
	_, err = module.Resolve[*CatalogService](manager, ModuleName, CatalogServiceToken)
	require.NoError(t, err)
}
