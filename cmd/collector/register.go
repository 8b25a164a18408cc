package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/hostinfo"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// noneApplicationCode names the placeholder application the collector
// registers itself under
const noneApplicationCode = "NONE"

func registerCollector(ctx context.Context, logger *zap.Logger, modules module.Finder) error {
	applications, err := module.Resolve[storage.ApplicationDAO](modules, storage.ModuleName, storage.ApplicationDAOToken)
	if err != nil {
		return err
	}
	instances, err := module.Resolve[storage.InstanceDAO](modules, storage.ModuleName, storage.InstanceDAOToken)
	if err != nil {
		return err
	}

	instance, err := selfRegister(ctx, applications, instances, time.Now())
	if err != nil {
		return err
	}
	logger.Info("Collector instance registered",
		zap.Int("instance_id", instance.ID),
		zap.String("agent_uuid", instance.AgentUUID),
		zap.String("os_info", instance.OsInfo))
	return nil
}

// selfRegister ensures the placeholder application exists and records the
// collector's own host description as its instance
func selfRegister(ctx context.Context, applications storage.ApplicationDAO, instances storage.InstanceDAO, now time.Time) (*model.Instance, error) {
	app, err := applications.Get(ctx, model.NoneApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		app = &model.Application{ID: model.NoneApplicationID, Code: noneApplicationCode}
		if err := applications.Save(ctx, app); err != nil {
			return nil, err
		}
	}

	osInfo, err := hostinfo.Collect()
	if err != nil {
		return nil, err
	}
	bucket, err := model.TimeBucket(model.StepSecond, now)
	if err != nil {
		return nil, err
	}

	instance, err := instances.Get(ctx, model.NoneApplicationID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		instance = &model.Instance{
			ID:            model.NoneApplicationID,
			ApplicationID: app.ID,
			AgentUUID:     uuid.New().String(),
			RegisterTime:  bucket,
		}
	}
	instance.HeartbeatTime = bucket
	instance.OsInfo = osInfo

	if err := instances.Save(ctx, instance); err != nil {
		return nil, err
	}
	return instance, nil
}
