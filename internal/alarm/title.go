package alarm

import (
	"encoding/json"
	"fmt"

	"github.com/larry091001/incubator-skywalking/internal/model"
)

// Worker ids of the alarm graph
const (
	AlarmWorkerIDBase = 5000

	ValidationWorkerID  = AlarmWorkerIDBase
	EmailAlarmWorkerID  = AlarmWorkerIDBase + 1
	PersistenceWorkerID = AlarmWorkerIDBase + 2
)

// AlarmGraphID identifies the alarm notification graph in the graph manager
const AlarmGraphID = 500

const (
	responseTimeAlarm = " 响应时间报警!"
	successRateAlarm  = " 成功率报警!"
)

func suffix(t model.AlarmType) (string, error) {
	switch t {
	case model.AlarmTypeSlowRTT:
		return responseTimeAlarm, nil
	case model.AlarmTypeErrorRate:
		return successRateAlarm, nil
	default:
		return "", fmt.Errorf("%w: %q", model.ErrUnknownAlarmType, t)
	}
}

// Title builds the notification subject of an alarm. name is the service
// name for service alarms and the host name for instance alarms; it is
// ignored for application alarms.
func Title(record model.AlarmRecord, appCode, name string) (string, error) {
	s, err := suffix(record.AlarmType)
	if err != nil {
		return "", err
	}

	switch record.Kind {
	case model.AlarmKindService:
		return "应用[" + appCode + "]服务[ " + name + "]" + s, nil
	case model.AlarmKindInstance:
		return "应用[" + appCode + "]主机[ " + name + "]" + s, nil
	case model.AlarmKindApplication:
		return "应用[" + appCode + "]" + s, nil
	default:
		return "", fmt.Errorf("%w: %q", model.ErrUnknownAlarmKind, record.Kind)
	}
}

// HostName extracts hostName from an instance's os info JSON. Malformed or
// incomplete input yields model.Unknown.
func HostName(osInfo string) string {
	var info struct {
		HostName *string `json:"hostName"`
	}
	if err := json.Unmarshal([]byte(osInfo), &info); err != nil || info.HostName == nil {
		return model.Unknown
	}
	return *info.HostName
}
