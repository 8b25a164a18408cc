package model

import (
	"fmt"
	"strings"
	"time"
)

// Step is the time granularity a metric table is partitioned by
type Step string

const (
	StepSecond Step = "second"
	StepMinute Step = "minute"
	StepHour   Step = "hour"
	StepDay    Step = "day"
	StepMonth  Step = "month"
)

// Steps lists every granularity in ascending order
var Steps = []Step{StepSecond, StepMinute, StepHour, StepDay, StepMonth}

// ParseStep converts a case-insensitive name to a Step
func ParseStep(s string) (Step, error) {
	step := Step(strings.ToLower(s))
	for _, known := range Steps {
		if step == known {
			return step, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
}

var stepLayouts = map[Step]string{
	StepSecond: "20060102150405",
	StepMinute: "200601021504",
	StepHour:   "2006010215",
	StepDay:    "20060102",
	StepMonth:  "200601",
}

// TimeBucket encodes t as a comparable integer at the given step,
// e.g. 201711081013 for minute.
func TimeBucket(step Step, t time.Time) (int64, error) {
	layout, ok := stepLayouts[step]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	var bucket int64
	for _, c := range t.Format(layout) {
		bucket = bucket*10 + int64(c-'0')
	}
	return bucket, nil
}

// MetricSource tells whether a reference metric was observed by the caller or the callee
type MetricSource int

const (
	MetricSourceCaller MetricSource = 0
	MetricSourceCallee MetricSource = 1
)

func (s MetricSource) String() string {
	if s == MetricSourceCaller {
		return "caller"
	}
	return "callee"
}

// GroupRole selects which side of a reference is grouped on
type GroupRole string

const (
	// RoleFront groups by the calling service for a fixed callee
	RoleFront GroupRole = "front"
	// RoleBehind groups by the called service for a fixed caller
	RoleBehind GroupRole = "behind"
)

// QueryOrder is the descending sort key of a brief listing
type QueryOrder int

const (
	OrderByTimeBucket QueryOrder = iota
	OrderByAverageDuration
	OrderByCalls
	OrderByErrorCalls
)

// ServiceReferenceMetricRow is one stored aggregate of calls between two services
type ServiceReferenceMetricRow struct {
	MetricID            string       `json:"metric_id"`
	TimeBucket          int64        `json:"time_bucket"`
	Source              MetricSource `json:"source"`
	FrontApplicationID  int          `json:"front_application_id"`
	BehindApplicationID int          `json:"behind_application_id"`
	FrontServiceID      int          `json:"front_service_id"`
	BehindServiceID     int          `json:"behind_service_id"`
	Calls               int64        `json:"calls"`
	ErrorCalls          int64        `json:"error_calls"`
	DurationSum         int64        `json:"duration_sum"`
	ErrorDurationSum    int64        `json:"error_duration_sum"`
	AverageDuration     int64        `json:"average_duration"`
}

// MetricAggregateRow is the sum of reference metrics for one group key.
// Source and Target are the front and behind service ids of the group.
type MetricAggregateRow struct {
	GroupKey         int   `json:"group_key"`
	Source           int   `json:"source"`
	Target           int   `json:"target"`
	Calls            int64 `json:"calls"`
	ErrorCalls       int64 `json:"error_calls"`
	DurationSum      int64 `json:"duration_sum"`
	ErrorDurationSum int64 `json:"error_duration_sum"`
}

// ServiceInfo names one end of a reference
type ServiceInfo struct {
	ID              int    `json:"id"`
	Name            string `json:"name,omitempty"`
	ApplicationID   int    `json:"application_id,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
}

// ServiceReferenceMetric is one row of a brief listing
type ServiceReferenceMetric struct {
	ID              string      `json:"id"`
	AverageDuration int64       `json:"average_duration"`
	Calls           int64       `json:"calls"`
	ErrorCalls      int64       `json:"error_calls"`
	Front           ServiceInfo `json:"front"`
	Behind          ServiceInfo `json:"behind"`
}

// ServiceReferenceMetricBrief is one page of a brief listing plus the total match count
type ServiceReferenceMetricBrief struct {
	Total   int                       `json:"total"`
	Metrics []*ServiceReferenceMetric `json:"metrics"`
}

// MetricSnapshot is an aggregated measurement fed to alarm rule evaluation
type MetricSnapshot struct {
	Kind             AlarmKind `json:"kind"`
	ApplicationID    int       `json:"application_id"`
	ServiceID        int       `json:"service_id,omitempty"`
	InstanceID       int       `json:"instance_id,omitempty"`
	TimeBucket       int64     `json:"time_bucket"`
	Calls            int64     `json:"calls"`
	ErrorCalls       int64     `json:"error_calls"`
	DurationSum      int64     `json:"duration_sum"`
	ErrorDurationSum int64     `json:"error_duration_sum"`
}
