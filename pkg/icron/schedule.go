// Package icron adds introspection over cron expressions: when a
// schedule last fired and when it fires next, for status logging.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Expression string
	Next       time.Time
	Last       time.Time

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo evaluates a standard cron expression (descriptors
// like @hourly included) relative to refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	// The cron library only walks forward, so probe backwards hour by
	// hour for the most recent firing before refTime. A year without a
	// firing means the expression is effectively dormant; give up then.
	probe := refTime.Add(-time.Minute)
	for i := range 366 * 24 {
		candidate := schedule.Next(probe.Add(-time.Duration(i) * time.Hour))
		if !candidate.After(refTime) {
			info.Last = candidate
			info.TimeSinceLast = refTime.Sub(candidate)
			break
		}
	}
	return info, nil
}
