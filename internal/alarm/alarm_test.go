package alarm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/hostinfo"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

func TestTitle(t *testing.T) {
	title, err := Title(model.NewServiceAlarm(2, 10, model.AlarmTypeSlowRTT, ""), "OrderService", "createOrder")
	require.NoError(t, err)
	assert.Equal(t, "应用[OrderService]服务[ createOrder] 响应时间报警!", title)

	title, err = Title(model.NewInstanceAlarm(2, 7, model.AlarmTypeErrorRate, ""), "OrderService", "node-7")
	require.NoError(t, err)
	assert.Equal(t, "应用[OrderService]主机[ node-7] 成功率报警!", title)

	title, err = Title(model.NewApplicationAlarm(2, model.AlarmTypeErrorRate, ""), "OrderService", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "应用[OrderService] 成功率报警!", title)

	_, err = Title(model.NewApplicationAlarm(2, "CPU", ""), "OrderService", "")
	assert.ErrorIs(t, err, model.ErrUnknownAlarmType)

	_, err = Title(model.AlarmRecord{Kind: "cluster", AlarmType: model.AlarmTypeSlowRTT}, "OrderService", "")
	assert.ErrorIs(t, err, model.ErrUnknownAlarmKind)
}

func TestHostName(t *testing.T) {
	tests := []struct {
		osInfo string
		want   string
	}{
		{`{"hostName":"node-7"}`, "node-7"},
		{`{"hostName":"node-7","ipv4s":["10.0.0.7"],"processNo":42}`, "node-7"},
		{`{"hostName":""}`, ""},
		{`{}`, model.Unknown},
		{`null`, model.Unknown},
		{``, model.Unknown},
		{`{"hostName":`, model.Unknown},
		{`not json`, model.Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HostName(tt.osInfo), "input %q", tt.osInfo)
	}
}

func TestHostName_CollectedBlob(t *testing.T) {
	blob, err := hostinfo.Collect()
	require.NoError(t, err)
	assert.NotEqual(t, model.Unknown, HostName(blob))
}

func TestValidationWorker(t *testing.T) {
	w := NewValidationWorker(zap.NewNop())
	assert.Equal(t, ValidationWorkerID, w.ID())

	tests := []struct {
		name    string
		record  model.AlarmRecord
		forward bool
	}{
		{"service", model.NewServiceAlarm(2, 10, model.AlarmTypeSlowRTT, ""), true},
		{"application", model.NewApplicationAlarm(2, model.AlarmTypeErrorRate, ""), true},
		{"missing application", model.NewApplicationAlarm(0, model.AlarmTypeErrorRate, ""), false},
		{"service without service id", model.NewServiceAlarm(2, 0, model.AlarmTypeSlowRTT, ""), false},
		{"unknown type", model.NewInstanceAlarm(2, 7, "CPU", ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forwarded := false
			w.Process(tt.record, func(model.AlarmRecord) { forwarded = true })
			assert.Equal(t, tt.forward, forwarded)
		})
	}
}

type fakeAlarmDAO struct {
	storage.AlarmDAO
	saved []model.AlarmRecord
	err   error
}

func (d *fakeAlarmDAO) Save(ctx context.Context, r *model.AlarmRecord) error {
	if d.err != nil {
		return d.err
	}
	if r.ID == "" {
		r.ID = "generated"
	}
	d.saved = append(d.saved, *r)
	return nil
}

func TestPersistenceWorker(t *testing.T) {
	dao := &fakeAlarmDAO{}
	w := NewPersistenceWorker(zap.NewNop(), dao)

	var out model.AlarmRecord
	nexts := 0
	w.Process(model.NewApplicationAlarm(2, model.AlarmTypeSlowRTT, "slow"), func(r model.AlarmRecord) {
		out = r
		nexts++
	})
	assert.Equal(t, 1, nexts)
	require.Len(t, dao.saved, 1)
	assert.Equal(t, "generated", out.ID)

	dao.err = errors.New("disk full")
	nexts = 0
	w.Process(model.NewApplicationAlarm(2, model.AlarmTypeSlowRTT, "slow"), func(model.AlarmRecord) { nexts++ })
	assert.Equal(t, 1, nexts, "a failed write does not stop the record")
}

func TestEvaluator(t *testing.T) {
	rule := config.AlarmRule{ErrorRateThreshold: 0.10, AverageResponseTimeThreshold: 2000}
	e := NewEvaluator(Rules{Service: rule, Instance: rule, Application: config.AlarmRule{ErrorRateThreshold: 0.5, AverageResponseTimeThreshold: 100}})

	t.Run("healthy", func(t *testing.T) {
		records, err := e.Evaluate(model.MetricSnapshot{Kind: model.AlarmKindService, ApplicationID: 2, ServiceID: 10, Calls: 100, ErrorCalls: 5, DurationSum: 100000})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("slow and failing service", func(t *testing.T) {
		records, err := e.Evaluate(model.MetricSnapshot{
			Kind: model.AlarmKindService, ApplicationID: 2, ServiceID: 10, TimeBucket: 201711081013,
			Calls: 100, ErrorCalls: 20, DurationSum: 300000,
		})
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, model.AlarmTypeSlowRTT, records[0].AlarmType)
		assert.Equal(t, "average response time 3000ms exceeds threshold 2000ms", records[0].AlarmContent)
		assert.Equal(t, model.AlarmTypeErrorRate, records[1].AlarmType)
		assert.Equal(t, "error rate 20.00% exceeds threshold 10.00%", records[1].AlarmContent)
		for _, r := range records {
			assert.Equal(t, model.AlarmKindService, r.Kind)
			assert.Equal(t, 10, r.ServiceID)
			assert.Equal(t, int64(201711081013), r.TimeBucket)
			assert.NoError(t, r.Validate())
		}
	})

	t.Run("instance", func(t *testing.T) {
		records, err := e.Evaluate(model.MetricSnapshot{Kind: model.AlarmKindInstance, ApplicationID: 2, InstanceID: 7, Calls: 10, DurationSum: 30000})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 7, records[0].InstanceID)
	})

	t.Run("application rule", func(t *testing.T) {
		records, err := e.Evaluate(model.MetricSnapshot{Kind: model.AlarmKindApplication, ApplicationID: 2, Calls: 10, ErrorCalls: 4, DurationSum: 1500})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, model.AlarmTypeSlowRTT, records[0].AlarmType)
	})

	t.Run("no calls", func(t *testing.T) {
		records, err := e.Evaluate(model.MetricSnapshot{Kind: model.AlarmKindService, ApplicationID: 2, ServiceID: 10})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := e.Evaluate(model.MetricSnapshot{Kind: "cluster", Calls: 1})
		assert.ErrorIs(t, err, model.ErrUnknownAlarmKind)
	})
}
