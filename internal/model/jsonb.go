package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSON unmarshals a JSONB column into dest, tolerating NULL.
func scanJSON(src any, dest any) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// TargetVideo is one entry of a schedule's target list. Title is filled
// lazily when the AI generator looks the video up.
type TargetVideo struct {
	VideoID string  `json:"videoId"`
	Title   *string `json:"title,omitempty"`
}

type TargetVideos []TargetVideo

func (t TargetVideos) Value() (driver.Value, error) {
	if t == nil {
		t = TargetVideos{}
	}
	return json.Marshal(t)
}

func (t *TargetVideos) Scan(src any) error {
	return scanJSON(src, t)
}

// Interval drives interval-type schedules. When IsRandom is set with valid
// bounds, Every is redrawn from [Min, Max] at the start of every batch.
type Interval struct {
	Every    int          `json:"value"`
	Unit     IntervalUnit `json:"unit"`
	IsRandom bool         `json:"isRandom"`
	Min      int          `json:"min"`
	Max      int          `json:"max"`
}

func (i Interval) Millis() int64 {
	v := int64(i.Every)
	switch i.Unit {
	case IntervalUnitHours:
		return v * 60 * 60 * 1000
	case IntervalUnitDays:
		return v * 24 * 60 * 60 * 1000
	default:
		return v * 60 * 1000
	}
}

func (i Interval) Value() (driver.Value, error) {
	return json.Marshal(i)
}

func (i *Interval) Scan(src any) error {
	return scanJSON(src, i)
}

// LimitComments is the sleep-cycle threshold: every Threshold successful
// posts the schedule pauses. Random draws a fresh value from [Min, Max] on
// wake.
type LimitComments struct {
	Threshold int  `json:"value"`
	Min       int  `json:"min"`
	Max       int  `json:"max"`
	IsRandom  bool `json:"isRandom"`
}

func (l LimitComments) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *LimitComments) Scan(src any) error {
	return scanJSON(src, l)
}
