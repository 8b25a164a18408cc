package config

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/notify"
)

// ModuleName is the registry name of the configuration module
const ModuleName = "configuration"

// Service tokens bound by the configuration module
const (
	CollectorConfigToken               module.Token = "configuration.CollectorConfig"
	ApdexThresholdToken                module.Token = "configuration.ApdexThreshold"
	ServiceAlarmRuleToken              module.Token = "configuration.ServiceAlarmRule"
	InstanceAlarmRuleToken             module.Token = "configuration.InstanceAlarmRule"
	ApplicationAlarmRuleToken          module.Token = "configuration.ApplicationAlarmRule"
	ServiceReferenceAlarmRuleToken     module.Token = "configuration.ServiceReferenceAlarmRule"
	InstanceReferenceAlarmRuleToken    module.Token = "configuration.InstanceReferenceAlarmRule"
	ApplicationReferenceAlarmRuleToken module.Token = "configuration.ApplicationReferenceAlarmRule"
	ResponseTimeDistributionToken      module.Token = "configuration.ResponseTimeDistribution"
	WorkerCacheSizeToken               module.Token = "configuration.WorkerCacheSize"
	NotificationChannelToken           module.Token = "configuration.NotificationChannel"
)

// CollectorConfig exposes collector-wide settings
type CollectorConfig struct {
	Namespace string
}

// ApdexThreshold is the satisfied response time in milliseconds
type ApdexThreshold int

// WorkerCacheSize bounds the entries of each worker cache
type WorkerCacheSize int

// Option customises the configuration provider
type Option func(*Provider)

// WithJetStream lets the provider build a NATS notification channel
func WithJetStream(js nats.JetStreamContext) Option {
	return func(p *Provider) {
		p.js = js
	}
}

// WithChannel binds a prebuilt notification channel when alarms are enabled
func WithChannel(channel notify.Channel) Option {
	return func(p *Provider) {
		p.channel = channel
	}
}

// Provider is the default configuration module provider
type Provider struct {
	*module.BaseProvider
	logger  *zap.Logger
	config  ModuleConfig
	alarm   AlarmConfig
	js      nats.JetStreamContext
	channel notify.Channel
}

// NewProvider returns a factory for the configuration module
func NewProvider(config ModuleConfig, alarm AlarmConfig, opts ...Option) module.Factory {
	return func(logger *zap.Logger) (module.Provider, error) {
		p := &Provider{
			BaseProvider: &module.BaseProvider{},
			logger:       logger,
			config:       config,
			alarm:        alarm,
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
	return nil
}

// Prepare validates the options and binds the normalised rule services
func (p *Provider) Prepare(ctx context.Context, modules module.Finder) error {
	if err := validate.Struct(p.config); err != nil {
		return fmt.Errorf("invalid configuration module options: %w", err)
	}
	settings := p.config.Normalize()

	channel, err := p.notificationChannel()
	if err != nil {
		return err
	}
	p.channel = channel
	if channel != nil {
		channel.Initialize(ctx)
		if err := p.RegisterService(NotificationChannelToken, channel); err != nil {
			return err
		}
	}

	bindings := []struct {
		token module.Token
		impl  any
	}{
		{CollectorConfigToken, &CollectorConfig{Namespace: settings.Namespace}},
		{ApdexThresholdToken, ApdexThreshold(settings.ApdexThreshold)},
		{ServiceAlarmRuleToken, settings.Service},
		{InstanceAlarmRuleToken, settings.Instance},
		{ApplicationAlarmRuleToken, settings.Application},
		{ServiceReferenceAlarmRuleToken, settings.Service},
		{InstanceReferenceAlarmRuleToken, settings.Instance},
		{ApplicationReferenceAlarmRuleToken, settings.Application},
		{ResponseTimeDistributionToken, settings.ResponseTimeDistribution},
		{WorkerCacheSizeToken, WorkerCacheSize(settings.WorkerCacheMaxSize)},
	}
	for _, b := range bindings {
		if err := p.RegisterService(b.token, b.impl); err != nil {
			return err
		}
	}

	p.logger.Info("Configuration prepared",
		zap.String("namespace", settings.Namespace),
		zap.Float64("service_error_rate_threshold", settings.Service.ErrorRateThreshold),
		zap.Int("worker_cache_max_size", settings.WorkerCacheMaxSize),
		zap.Bool("alarm_notification", p.channel != nil))
	return nil
}

// Start implements module.Provider
func (p *Provider) Start(ctx context.Context, modules module.Finder) error {
	return nil
}

// NotifyAfterCompleted implements module.Provider
func (p *Provider) NotifyAfterCompleted(ctx context.Context, modules module.Finder) error {
	return nil
}

// Stop shuts the notification channel down
func (p *Provider) Stop(ctx context.Context) error {
	if p.channel != nil {
		p.channel.Shutdown()
	}
	return nil
}

// notificationChannel builds the channel selected by alarm.channel. It
// returns nil when email alarms are disabled.
func (p *Provider) notificationChannel() (notify.Channel, error) {
	if !p.config.EmailAlarmEnable {
		return nil, nil
	}
	if p.channel != nil {
		return p.channel, nil
	}

	switch p.alarm.Channel {
	case "", "email":
		return notify.NewEmailClient(p.logger, notify.EmailConfig{
			Host:             p.config.EmailHost,
			Port:             p.config.EmailPort,
			Username:         p.config.EmailUsername,
			Password:         p.config.EmailPassword,
			SSLEnable:        p.config.EmailSslEnable,
			Auth:             p.config.EmailAuth,
			StartTLSEnable:   p.config.EmailStarttlsEnable,
			StartTLSRequired: p.config.EmailStarttlsRequired,
		}), nil
	case "nats":
		if p.js == nil {
			return nil, fmt.Errorf("alarm channel nats requires a JetStream connection")
		}
		return notify.NewNATSChannel(p.logger, p.js, p.alarm.NotifySubject), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown alarm channel %q", p.alarm.Channel)
	}
}
