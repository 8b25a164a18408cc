package alarm

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/cache"
	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/graph"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/notify"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// ModuleName is the registry name of the alarm analysis module
const ModuleName = "analysis-alarm"

// Service tokens bound by the alarm module
const (
	GraphManagerToken module.Token = "analysis-alarm.GraphManager"
	EvaluatorToken    module.Token = "analysis-alarm.Evaluator"
)

// Option customises the alarm provider
type Option func(*Provider)

// WithConsumer subscribes the alarm graph to JetStream once every module
// has started
func WithConsumer(js nats.JetStreamContext, cfg ConsumerConfig) Option {
	return func(p *Provider) {
		p.js = js
		p.consumerConfig = cfg
	}
}

// Provider builds the alarm graph
type Provider struct {
	*module.BaseProvider
	logger         *zap.Logger
	graphs         *graph.Manager
	evaluator      *Evaluator
	js             nats.JetStreamContext
	consumerConfig ConsumerConfig
	consumer       *Consumer
}

// NewProvider returns a factory for the alarm module
func NewProvider(opts ...Option) module.Factory {
	return func(logger *zap.Logger) (module.Provider, error) {
		p := &Provider{
			BaseProvider: &module.BaseProvider{},
			logger:       logger,
		}
		for _, opt := range opts {
			opt(p)
		}
		return p, nil
	}
}

// Name implements module.Provider
func (p *Provider) Name() string {
	return "default"
}

// RequiredModules implements module.Provider
func (p *Provider) RequiredModules() []string {
	return []string{config.ModuleName, cache.ModuleName, storage.ModuleName}
}

// Prepare binds the graph manager and the rule evaluator
func (p *Provider) Prepare(ctx context.Context, modules module.Finder) error {
	var rules Rules
	for _, r := range []struct {
		token module.Token
		rule  *config.AlarmRule
	}{
		{config.ServiceAlarmRuleToken, &rules.Service},
		{config.InstanceAlarmRuleToken, &rules.Instance},
		{config.ApplicationAlarmRuleToken, &rules.Application},
	} {
		rule, err := module.Resolve[config.AlarmRule](modules, config.ModuleName, r.token)
		if err != nil {
			return err
		}
		*r.rule = rule
	}

	p.evaluator = NewEvaluator(rules)
	p.graphs = graph.NewManager(p.logger)

	if err := p.RegisterService(GraphManagerToken, p.graphs); err != nil {
		return err
	}
	return p.RegisterService(EvaluatorToken, p.evaluator)
}

// Start wires the alarm graph: validation, notification, persistence
func (p *Provider) Start(ctx context.Context, modules module.Finder) error {
	deps, err := p.notificationDeps(modules)
	if err != nil {
		return err
	}
	alarms, err := module.Resolve[storage.AlarmDAO](modules, storage.ModuleName, storage.AlarmDAOToken)
	if err != nil {
		return err
	}

	g, err := graph.Create[model.AlarmRecord](p.graphs, AlarmGraphID)
	if err != nil {
		return err
	}
	entry, err := g.AddNode(NewValidationWorker(p.logger))
	if err != nil {
		return err
	}
	notification, err := entry.AddNext(NewNotificationWorker(p.logger, deps))
	if err != nil {
		return err
	}
	if _, err := notification.AddNext(NewPersistenceWorker(p.logger, alarms)); err != nil {
		return err
	}

	p.logger.Info("Alarm graph created",
		zap.Int("graph_id", AlarmGraphID),
		zap.Ints("workers", g.NodeIDs()),
		zap.Bool("notification", deps.Channel != nil))
	return nil
}

// NotifyAfterCompleted starts consuming once every module is running
func (p *Provider) NotifyAfterCompleted(ctx context.Context, modules module.Finder) error {
	if p.js == nil {
		return nil
	}

	g, err := graph.Find[model.AlarmRecord](p.graphs, AlarmGraphID)
	if err != nil {
		return err
	}
	references, err := module.Resolve[storage.ServiceReferenceMetricDAO](modules, storage.ModuleName, storage.ServiceReferenceMetricDAOToken)
	if err != nil {
		return err
	}

	p.consumer = NewConsumer(p.logger, p.js, p.consumerConfig, g, p.evaluator, references)
	if err := p.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start alarm consumer: %w", err)
	}
	return nil
}

// Stop unsubscribes the consumer
func (p *Provider) Stop(ctx context.Context) error {
	if p.consumer != nil {
		p.consumer.Stop()
	}
	return nil
}

func (p *Provider) notificationDeps(modules module.Finder) (NotificationDeps, error) {
	var deps NotificationDeps

	channel, ok, err := module.Optional[notify.Channel](modules, config.ModuleName, config.NotificationChannelToken)
	if err != nil {
		return deps, err
	}
	if ok {
		deps.Channel = channel
	}

	if deps.Applications, err = module.Resolve[cache.ApplicationCache](modules, cache.ModuleName, cache.ApplicationCacheToken); err != nil {
		return deps, err
	}
	if deps.Services, err = module.Resolve[cache.ServiceNameCache](modules, cache.ModuleName, cache.ServiceNameCacheToken); err != nil {
		return deps, err
	}
	if deps.Instances, err = module.Resolve[storage.InstanceDAO](modules, storage.ModuleName, storage.InstanceDAOToken); err != nil {
		return deps, err
	}
	if deps.Contacts, err = module.Resolve[storage.AlarmContactDAO](modules, storage.ModuleName, storage.AlarmContactDAOToken); err != nil {
		return deps, err
	}
	if deps.Links, err = module.Resolve[storage.ApplicationAlarmContactDAO](modules, storage.ModuleName, storage.ApplicationAlarmContactDAOToken); err != nil {
		return deps, err
	}
	return deps, nil
}
