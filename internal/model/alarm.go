package model

import (
	"fmt"
)

// Unknown is substituted for names that cannot be resolved from embedded payloads
const Unknown = "unknown"

// AlarmKind discriminates the granularity an alarm record was raised at
type AlarmKind string

const (
	AlarmKindService     AlarmKind = "service"
	AlarmKindInstance    AlarmKind = "instance"
	AlarmKindApplication AlarmKind = "application"
)

// AlarmType identifies the violated rule
type AlarmType string

const (
	AlarmTypeSlowRTT   AlarmType = "SLOW_RTT"
	AlarmTypeErrorRate AlarmType = "ERROR_RATE"
)

// Valid reports whether t is one of the known alarm types
func (t AlarmType) Valid() bool {
	return t == AlarmTypeSlowRTT || t == AlarmTypeErrorRate
}

// AlarmRecord describes a threshold violation. Kind selects which of
// ServiceID and InstanceID is meaningful; the other stays zero.
type AlarmRecord struct {
	ID            string    `json:"id"`
	Kind          AlarmKind `json:"kind"`
	AlarmType     AlarmType `json:"alarm_type"`
	ApplicationID int       `json:"application_id"`
	ServiceID     int       `json:"service_id,omitempty"`
	InstanceID    int       `json:"instance_id,omitempty"`
	AlarmContent  string    `json:"alarm_content"`
	TimeBucket    int64     `json:"time_bucket"`
}

// NewServiceAlarm creates an alarm raised against a single service
func NewServiceAlarm(applicationID, serviceID int, alarmType AlarmType, content string) AlarmRecord {
	return AlarmRecord{
		Kind:          AlarmKindService,
		AlarmType:     alarmType,
		ApplicationID: applicationID,
		ServiceID:     serviceID,
		AlarmContent:  content,
	}
}

// NewInstanceAlarm creates an alarm raised against an application instance
func NewInstanceAlarm(applicationID, instanceID int, alarmType AlarmType, content string) AlarmRecord {
	return AlarmRecord{
		Kind:          AlarmKindInstance,
		AlarmType:     alarmType,
		ApplicationID: applicationID,
		InstanceID:    instanceID,
		AlarmContent:  content,
	}
}

// NewApplicationAlarm creates an alarm raised against a whole application
func NewApplicationAlarm(applicationID int, alarmType AlarmType, content string) AlarmRecord {
	return AlarmRecord{
		Kind:          AlarmKindApplication,
		AlarmType:     alarmType,
		ApplicationID: applicationID,
		AlarmContent:  content,
	}
}

// Validate checks the fields required by the record's kind
func (r AlarmRecord) Validate() error {
	if r.ApplicationID == 0 {
		return ErrMissingApplicationID
	}
	if !r.AlarmType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAlarmType, r.AlarmType)
	}

	switch r.Kind {
	case AlarmKindService:
		if r.ServiceID == 0 {
			return fmt.Errorf("%w: service alarm without service id", ErrIncompleteAlarm)
		}
	case AlarmKindInstance:
		if r.InstanceID == 0 {
			return fmt.Errorf("%w: instance alarm without instance id", ErrIncompleteAlarm)
		}
	case AlarmKindApplication:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlarmKind, r.Kind)
	}
	return nil
}

// AlarmContact is a person notified about alarms of linked applications
type AlarmContact struct {
	ID          int    `json:"id"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	RealName    string `json:"real_name,omitempty"`
	Status      int    `json:"status"`
	CreateTime  int64  `json:"create_time"`
	UpdateTime  int64  `json:"update_time"`
}

// AlarmContactList is one page of contacts plus the total match count
type AlarmContactList struct {
	Total int             `json:"total"`
	Items []*AlarmContact `json:"items"`
}

// ApplicationAlarmContactLink binds a contact to an application
type ApplicationAlarmContactLink struct {
	ID             string `json:"id"`
	ApplicationID  int    `json:"application_id"`
	AlarmContactID int    `json:"alarm_contact_id"`
	CreateTime     int64  `json:"create_time"`
	UpdateTime     int64  `json:"update_time"`
}
