package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarmRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  AlarmRecord
		wantErr error
	}{
		{
			name:   "service alarm",
			record: NewServiceAlarm(2, 7, AlarmTypeSlowRTT, "slow"),
		},
		{
			name:   "instance alarm",
			record: NewInstanceAlarm(2, 3, AlarmTypeErrorRate, "errors"),
		},
		{
			name:   "application alarm",
			record: NewApplicationAlarm(2, AlarmTypeErrorRate, "errors"),
		},
		{
			name:    "missing application id",
			record:  NewApplicationAlarm(0, AlarmTypeSlowRTT, "slow"),
			wantErr: ErrMissingApplicationID,
		},
		{
			name:    "service alarm without service id",
			record:  NewServiceAlarm(2, 0, AlarmTypeSlowRTT, "slow"),
			wantErr: ErrIncompleteAlarm,
		},
		{
			name:    "instance alarm without instance id",
			record:  NewInstanceAlarm(2, 0, AlarmTypeSlowRTT, "slow"),
			wantErr: ErrIncompleteAlarm,
		},
		{
			name:    "unknown kind",
			record:  AlarmRecord{Kind: "cluster", AlarmType: AlarmTypeSlowRTT, ApplicationID: 2},
			wantErr: ErrUnknownAlarmKind,
		},
		{
			name:    "unknown type",
			record:  AlarmRecord{Kind: AlarmKindApplication, AlarmType: "CPU", ApplicationID: 2},
			wantErr: ErrUnknownAlarmType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTimeBucket(t *testing.T) {
	ts := time.Date(2017, 11, 8, 10, 13, 42, 0, time.UTC)

	expected := map[Step]int64{
		StepSecond: 20171108101342,
		StepMinute: 201711081013,
		StepHour:   2017110810,
		StepDay:    20171108,
		StepMonth:  201711,
	}
	for step, want := range expected {
		got, err := TimeBucket(step, ts)
		require.NoError(t, err)
		assert.Equal(t, want, got, "step %s", step)
	}

	_, err := TimeBucket("week", ts)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestParseStep(t *testing.T) {
	step, err := ParseStep("MINUTE")
	require.NoError(t, err)
	assert.Equal(t, StepMinute, step)

	_, err = ParseStep("fortnight")
	assert.ErrorIs(t, err, ErrUnknownStep)
}
