package query

import (
	"fmt"
	"time"

	"github.com/larry091001/incubator-skywalking/internal/model"
)

// DefaultPageSize is used when a paging request carries no size
const DefaultPageSize = 20

var durationLayouts = map[model.Step]string{
	model.StepSecond: "2006-01-02 150405",
	model.StepMinute: "2006-01-02 1504",
	model.StepHour:   "2006-01-02 15",
	model.StepDay:    "2006-01-02",
	model.StepMonth:  "2006-01",
}

// Duration is a query window as sent by the UI, e.g. Start "2017-11-08 1013"
// and End "2017-11-08 1043" at minute step
type Duration struct {
	Start string     `json:"start"`
	End   string     `json:"end"`
	Step  model.Step `json:"step"`
}

// Buckets converts both bounds to time buckets at the duration's step
func (d Duration) Buckets() (start, end int64, err error) {
	layout, ok := durationLayouts[d.Step]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", model.ErrUnknownStep, d.Step)
	}
	if start, err = bucket(d.Step, layout, d.Start); err != nil {
		return 0, 0, err
	}
	if end, err = bucket(d.Step, layout, d.End); err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("%w: start %d is after end %d", ErrInvalidDuration, start, end)
	}
	return start, end, nil
}

func bucket(step model.Step, layout, value string) (int64, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q at step %s", ErrInvalidDuration, value, step)
	}
	return model.TimeBucket(step, t)
}

// Paging selects one page of a listing. PageNum starts at 1.
type Paging struct {
	PageNum  int `json:"page_num"`
	PageSize int `json:"page_size"`
}

// Page converts the paging request to a limit and offset
func (p Paging) Page() (limit, from int) {
	limit = p.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	num := p.PageNum
	if num < 1 {
		num = 1
	}
	return limit, (num - 1) * limit
}
