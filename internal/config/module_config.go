package config

// ModuleConfig holds the analysis options. Zero values fall back to
// defaults; rates are percentages from 0 to 100.
type ModuleConfig struct {
	Namespace string `mapstructure:"namespace"`

	ApplicationApdexThreshold int `mapstructure:"applicationApdexThreshold" validate:"gte=0"`

	ServiceErrorRateThreshold               float64 `mapstructure:"serviceErrorRateThreshold" validate:"gte=0,lte=100"`
	ServiceAverageResponseTimeThreshold     int     `mapstructure:"serviceAverageResponseTimeThreshold" validate:"gte=0"`
	InstanceErrorRateThreshold              float64 `mapstructure:"instanceErrorRateThreshold" validate:"gte=0,lte=100"`
	InstanceAverageResponseTimeThreshold    int     `mapstructure:"instanceAverageResponseTimeThreshold" validate:"gte=0"`
	ApplicationErrorRateThreshold           float64 `mapstructure:"applicationErrorRateThreshold" validate:"gte=0,lte=100"`
	ApplicationAverageResponseTimeThreshold int     `mapstructure:"applicationAverageResponseTimeThreshold" validate:"gte=0"`

	ThermodynamicResponseTimeStep         int `mapstructure:"thermodynamicResponseTimeStep" validate:"gte=0"`
	ThermodynamicCountOfResponseTimeSteps int `mapstructure:"thermodynamicCountOfResponseTimeSteps" validate:"gte=0"`

	WorkerCacheMaxSize int `mapstructure:"workerCacheMaxSize" validate:"gte=0"`

	EmailAlarmEnable      bool   `mapstructure:"emailAlarmEnable"`
	EmailHost             string `mapstructure:"emailHost" validate:"required_if=EmailAlarmEnable true"`
	EmailPort             int    `mapstructure:"emailPort" validate:"gte=0,lte=65535"`
	EmailUsername         string `mapstructure:"emailUsername"`
	EmailPassword         string `mapstructure:"emailPassword"`
	EmailSslEnable        bool   `mapstructure:"emailSslEnable"`
	EmailAuth             bool   `mapstructure:"emailAuth"`
	EmailStarttlsEnable   bool   `mapstructure:"emailStarttlsEnable"`
	EmailStarttlsRequired bool   `mapstructure:"emailStarttlsRequired"`
}

const (
	defaultApdexThreshold           = 2000
	defaultErrorRate                = 0.10
	defaultAverageResponseTime      = 2000
	defaultResponseTimeStep         = 50
	defaultCountOfResponseTimeSteps = 40
	defaultWorkerCacheMaxSize       = 10000
)

// Settings are the normalised analysis options. Rates are fractions.
type Settings struct {
	Namespace                string
	ApdexThreshold           int
	Service                  AlarmRule
	Instance                 AlarmRule
	Application              AlarmRule
	ResponseTimeDistribution ResponseTimeDistribution
	WorkerCacheMaxSize       int
}

// AlarmRule holds the thresholds of one alarm scope
type AlarmRule struct {
	// ErrorRateThreshold is a fraction between 0 and 1
	ErrorRateThreshold float64
	// AverageResponseTimeThreshold is in milliseconds
	AverageResponseTimeThreshold int
}

// ResponseTimeDistribution configures the thermodynamic histogram
type ResponseTimeDistribution struct {
	Step         int
	CountOfSteps int
}

// Normalize applies defaults to unset options and converts percentages
func (c ModuleConfig) Normalize() Settings {
	return Settings{
		Namespace:      c.Namespace,
		ApdexThreshold: intOr(c.ApplicationApdexThreshold, defaultApdexThreshold),
		Service: AlarmRule{
			ErrorRateThreshold:           rateOr(c.ServiceErrorRateThreshold),
			AverageResponseTimeThreshold: intOr(c.ServiceAverageResponseTimeThreshold, defaultAverageResponseTime),
		},
		Instance: AlarmRule{
			ErrorRateThreshold:           rateOr(c.InstanceErrorRateThreshold),
			AverageResponseTimeThreshold: intOr(c.InstanceAverageResponseTimeThreshold, defaultAverageResponseTime),
		},
		Application: AlarmRule{
			ErrorRateThreshold:           rateOr(c.ApplicationErrorRateThreshold),
			AverageResponseTimeThreshold: intOr(c.ApplicationAverageResponseTimeThreshold, defaultAverageResponseTime),
		},
		ResponseTimeDistribution: ResponseTimeDistribution{
			Step:         intOr(c.ThermodynamicResponseTimeStep, defaultResponseTimeStep),
			CountOfSteps: intOr(c.ThermodynamicCountOfResponseTimeSteps, defaultCountOfResponseTimeSteps),
		},
		WorkerCacheMaxSize: intOr(c.WorkerCacheMaxSize, defaultWorkerCacheMaxSize),
	}
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func rateOr(percent float64) float64 {
	if percent == 0 {
		return defaultErrorRate
	}
	return percent / 100
}
