package alarm

import (
	"fmt"

	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/model"
)

// Rules holds the thresholds per alarm granularity
type Rules struct {
	Service     config.AlarmRule
	Instance    config.AlarmRule
	Application config.AlarmRule
}

// Evaluator turns metric snapshots into alarm records
type Evaluator struct {
	rules Rules
}

// NewEvaluator creates an evaluator for rules
func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate returns one record per violated threshold of the snapshot's
// rule. A snapshot without calls raises nothing.
func (e *Evaluator) Evaluate(s model.MetricSnapshot) ([]model.AlarmRecord, error) {
	if s.Calls <= 0 {
		return nil, nil
	}

	var rule config.AlarmRule
	var build func(model.AlarmType, string) model.AlarmRecord
	switch s.Kind {
	case model.AlarmKindService:
		rule = e.rules.Service
		build = func(t model.AlarmType, content string) model.AlarmRecord {
			return model.NewServiceAlarm(s.ApplicationID, s.ServiceID, t, content)
		}
	case model.AlarmKindInstance:
		rule = e.rules.Instance
		build = func(t model.AlarmType, content string) model.AlarmRecord {
			return model.NewInstanceAlarm(s.ApplicationID, s.InstanceID, t, content)
		}
	case model.AlarmKindApplication:
		rule = e.rules.Application
		build = func(t model.AlarmType, content string) model.AlarmRecord {
			return model.NewApplicationAlarm(s.ApplicationID, t, content)
		}
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownAlarmKind, s.Kind)
	}

	var records []model.AlarmRecord

	average := s.DurationSum / s.Calls
	if average > int64(rule.AverageResponseTimeThreshold) {
		records = append(records, build(model.AlarmTypeSlowRTT,
			fmt.Sprintf("average response time %dms exceeds threshold %dms", average, rule.AverageResponseTimeThreshold)))
	}

	errorRate := float64(s.ErrorCalls) / float64(s.Calls)
	if errorRate > rule.ErrorRateThreshold {
		records = append(records, build(model.AlarmTypeErrorRate,
			fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", errorRate*100, rule.ErrorRateThreshold*100)))
	}

	for i := range records {
		records[i].TimeBucket = s.TimeBucket
	}
	return records, nil
}
