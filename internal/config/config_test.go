package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/notify"
)

func TestModuleConfig_NormalizeDefaults(t *testing.T) {
	settings := ModuleConfig{}.Normalize()

	assert.Equal(t, 2000, settings.ApdexThreshold)
	assert.Equal(t, AlarmRule{ErrorRateThreshold: 0.10, AverageResponseTimeThreshold: 2000}, settings.Service)
	assert.Equal(t, AlarmRule{ErrorRateThreshold: 0.10, AverageResponseTimeThreshold: 2000}, settings.Instance)
	assert.Equal(t, AlarmRule{ErrorRateThreshold: 0.10, AverageResponseTimeThreshold: 2000}, settings.Application)
	assert.Equal(t, ResponseTimeDistribution{Step: 50, CountOfSteps: 40}, settings.ResponseTimeDistribution)
	assert.Equal(t, 10000, settings.WorkerCacheMaxSize)
}

func TestModuleConfig_NormalizePercentages(t *testing.T) {
	settings := ModuleConfig{
		ServiceErrorRateThreshold:           25,
		InstanceErrorRateThreshold:          5,
		ApplicationErrorRateThreshold:       50,
		ServiceAverageResponseTimeThreshold: 800,
		WorkerCacheMaxSize:                  64,
	}.Normalize()

	assert.InDelta(t, 0.25, settings.Service.ErrorRateThreshold, 1e-9)
	assert.InDelta(t, 0.05, settings.Instance.ErrorRateThreshold, 1e-9)
	assert.InDelta(t, 0.50, settings.Application.ErrorRateThreshold, 1e-9)
	assert.Equal(t, 800, settings.Service.AverageResponseTimeThreshold)
	assert.Equal(t, 64, settings.WorkerCacheMaxSize)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(`
log:
  level: debug
storage:
  driver: sqlite3
  dsn: "file::memory:?cache=shared"
configuration:
  namespace: prod
  serviceErrorRateThreshold: 20
  workerCacheMaxSize: 500
  emailAlarmEnable: true
  emailHost: smtp.example.com
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "prod", cfg.Configuration.Namespace)
	assert.Equal(t, 20.0, cfg.Configuration.ServiceErrorRateThreshold)
	assert.Equal(t, 500, cfg.Configuration.WorkerCacheMaxSize)
	assert.True(t, cfg.Configuration.EmailAlarmEnable)
	assert.True(t, cfg.Configuration.EmailAuth, "auth defaults to true")
	assert.True(t, cfg.Configuration.EmailStarttlsEnable, "starttls defaults to true")
	assert.False(t, cfg.Configuration.EmailStarttlsRequired)
	assert.Equal(t, "email", cfg.Alarm.Channel)
	assert.Equal(t, "@every 5m", cfg.Cache.RefreshSpec)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("COLLECTOR_STORAGE_DSN", "postgres://collector@localhost/apm")
	t.Setenv("COLLECTOR_STORAGE_DRIVER", "postgres")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://collector@localhost/apm", cfg.Storage.DSN)
}

func TestLoad_InvalidPercentage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("configuration:\n  instanceErrorRateThreshold: 150\n"), 0o644))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InstanceErrorRateThreshold")
}

func TestLoad_ThermodynamicStepCountAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
configuration:
  thermodynamicResponseTimeStep: 100
  thermodynamicStepCount: 25
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Configuration.ThermodynamicResponseTimeStep)
	assert.Equal(t, 25, cfg.Configuration.ThermodynamicCountOfResponseTimeSteps)

	// The full option name wins over the alias
	require.NoError(t, os.WriteFile(path, []byte(`
configuration:
  thermodynamicStepCount: 25
  thermodynamicCountOfResponseTimeSteps: 30
`), 0o644))
	cfg, err = Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Configuration.ThermodynamicCountOfResponseTimeSteps)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

type stubChannel struct {
	initialized bool
	shutdown    bool
}

func (c *stubChannel) Initialize(ctx context.Context) { c.initialized = true }
func (c *stubChannel) Send(ctx context.Context, recipients []string, body, subject string) error {
	return nil
}
func (c *stubChannel) Shutdown() { c.shutdown = true }

func startConfiguration(t *testing.T, factory module.Factory) (*module.Manager, error) {
	t.Helper()
	manager := module.NewManager(zaptest.NewLogger(t))
	require.NoError(t, manager.Register(ModuleName, factory))
	return manager, manager.Init(context.Background())
}

func TestProvider_BindsRuleServices(t *testing.T) {
	manager, err := startConfiguration(t, NewProvider(ModuleConfig{ServiceErrorRateThreshold: 30}, AlarmConfig{}))
	require.NoError(t, err)

	rule, err := module.Resolve[AlarmRule](manager, ModuleName, ServiceAlarmRuleToken)
	require.NoError(t, err)
	assert.InDelta(t, 0.30, rule.ErrorRateThreshold, 1e-9)

	size, err := module.Resolve[WorkerCacheSize](manager, ModuleName, WorkerCacheSizeToken)
	require.NoError(t, err)
	assert.Equal(t, WorkerCacheSize(10000), size)

	// Email alarms are disabled by default, so no channel is bound
	_, err = module.Resolve[notify.Channel](manager, ModuleName, NotificationChannelToken)
	assert.ErrorIs(t, err, module.ErrServiceNotProvided)
}

func TestProvider_BindsEveryOption(t *testing.T) {
	manager, err := startConfiguration(t, NewProvider(ModuleConfig{
		Namespace:                             "prod",
		ApplicationApdexThreshold:             1500,
		InstanceErrorRateThreshold:            20,
		InstanceAverageResponseTimeThreshold:  900,
		ApplicationErrorRateThreshold:         40,
		ThermodynamicResponseTimeStep:         100,
		ThermodynamicCountOfResponseTimeSteps: 25,
	}, AlarmConfig{}))
	require.NoError(t, err)

	collector, err := module.Resolve[*CollectorConfig](manager, ModuleName, CollectorConfigToken)
	require.NoError(t, err)
	assert.Equal(t, "prod", collector.Namespace)

	apdex, err := module.Resolve[ApdexThreshold](manager, ModuleName, ApdexThresholdToken)
	require.NoError(t, err)
	assert.Equal(t, ApdexThreshold(1500), apdex)

	distribution, err := module.Resolve[ResponseTimeDistribution](manager, ModuleName, ResponseTimeDistributionToken)
	require.NoError(t, err)
	assert.Equal(t, ResponseTimeDistribution{Step: 100, CountOfSteps: 25}, distribution)

	// Reference rules share the thresholds of their scope
	rules := []struct {
		scope     module.Token
		reference module.Token
		want      AlarmRule
	}{
		{ServiceAlarmRuleToken, ServiceReferenceAlarmRuleToken, AlarmRule{ErrorRateThreshold: 0.10, AverageResponseTimeThreshold: 2000}},
		{InstanceAlarmRuleToken, InstanceReferenceAlarmRuleToken, AlarmRule{ErrorRateThreshold: 0.20, AverageResponseTimeThreshold: 900}},
		{ApplicationAlarmRuleToken, ApplicationReferenceAlarmRuleToken, AlarmRule{ErrorRateThreshold: 0.40, AverageResponseTimeThreshold: 2000}},
	}
	for _, r := range rules {
		scope, err := module.Resolve[AlarmRule](manager, ModuleName, r.scope)
		require.NoError(t, err)
		assert.InDelta(t, r.want.ErrorRateThreshold, scope.ErrorRateThreshold, 1e-9, "token %s", r.scope)
		assert.Equal(t, r.want.AverageResponseTimeThreshold, scope.AverageResponseTimeThreshold, "token %s", r.scope)

		reference, err := module.Resolve[AlarmRule](manager, ModuleName, r.reference)
		require.NoError(t, err)
		assert.Equal(t, scope, reference, "token %s", r.reference)
	}
}

func TestProvider_BindsChannelWhenEnabled(t *testing.T) {
	channel := &stubChannel{}
	manager, err := startConfiguration(t, NewProvider(
		ModuleConfig{EmailAlarmEnable: true, EmailHost: "smtp.example.com"},
		AlarmConfig{Channel: "email"},
		WithChannel(channel),
	))
	require.NoError(t, err)

	bound, err := module.Resolve[notify.Channel](manager, ModuleName, NotificationChannelToken)
	require.NoError(t, err)
	assert.Same(t, channel, bound)
	assert.True(t, channel.initialized)

	manager.Shutdown(context.Background())
	assert.True(t, channel.shutdown)
}

func TestProvider_BuildsEmailClient(t *testing.T) {
	manager, err := startConfiguration(t, NewProvider(
		ModuleConfig{EmailAlarmEnable: true, EmailHost: "127.0.0.1", EmailPort: 1},
		AlarmConfig{Channel: "email"},
	))
	require.NoError(t, err)

	bound, err := module.Resolve[notify.Channel](manager, ModuleName, NotificationChannelToken)
	require.NoError(t, err)
	assert.IsType(t, &notify.EmailClient{}, bound)
}

func TestProvider_NATSChannelRequiresJetStream(t *testing.T) {
	_, err := startConfiguration(t, NewProvider(
		ModuleConfig{EmailAlarmEnable: true, EmailHost: "smtp.example.com"},
		AlarmConfig{Channel: "nats"},
	))
	var cfgErr *module.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, module.PhasePrepare, cfgErr.Phase)
}

func TestProvider_InvalidOptionsAreFatal(t *testing.T) {
	_, err := startConfiguration(t, NewProvider(ModuleConfig{ServiceErrorRateThreshold: -1}, AlarmConfig{}))
	var cfgErr *module.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ModuleName, cfgErr.Module)
}
