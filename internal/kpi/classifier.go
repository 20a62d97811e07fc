// Package kpi derives KPI status and trend from values, targets and history.
package kpi

import (
	"math"
	"sort"
	"time"

	"shopfloor/internal/domain"
)

const (
	DefaultWarningBand  = 0.10
	DefaultTrendEpsilon = 0.001
)

// Thresholds describe how a single KPI is judged. Tolerance and WarningBand
// are fractions of |target|; a zero WarningBand falls back to the classifier's.
type Thresholds struct {
	Direction   domain.Direction
	Tolerance   float64
	WarningBand float64
}

// Classifier is the single source of truth for KPI status and trend.
type Classifier struct {
	WarningBand  float64
	TrendEpsilon float64
}

func New() Classifier {
	return Classifier{WarningBand: DefaultWarningBand, TrendEpsilon: DefaultTrendEpsilon}
}

func (c Classifier) band(th Thresholds) float64 {
	if th.WarningBand > 0 {
		return th.WarningBand
	}
	if c.WarningBand > 0 {
		return c.WarningBand
	}
	return DefaultWarningBand
}

// Classify maps a value against its target. Values inside tolerance are a
// success, values inside the near-miss band a warning, the rest danger.
func (c Classifier) Classify(current, target float64, th Thresholds) domain.Status {
	if math.IsNaN(current) || math.IsNaN(target) {
		return domain.StatusDanger
	}
	scale := math.Abs(target)
	if scale == 0 {
		scale = 1
	}
	tol := math.Max(th.Tolerance, 0)
	okMargin := tol * scale
	warnMargin := (tol + c.band(th)) * scale

	if th.Direction == domain.LowerIsBetter {
		switch {
		case current <= target+okMargin:
			return domain.StatusSuccess
		case current <= target+warnMargin:
			return domain.StatusWarning
		}
		return domain.StatusDanger
	}
	switch {
	case current >= target-okMargin:
		return domain.StatusSuccess
	case current >= target-warnMargin:
		return domain.StatusWarning
	}
	return domain.StatusDanger
}

// Trend compares the two most recent samples. Fewer than two samples, or a
// change within epsilon relative to the previous value, is stable.
func (c Classifier) Trend(history []domain.Sample) domain.Trend {
	if len(history) < 2 {
		return domain.TrendStable
	}
	prev := history[len(history)-2].Value
	last := history[len(history)-1].Value
	diff := last - prev
	if math.Abs(diff) <= c.TrendEpsilon*math.Max(1, math.Abs(prev)) {
		return domain.TrendStable
	}
	if diff > 0 {
		return domain.TrendUp
	}
	return domain.TrendDown
}

func ThresholdsFor(k domain.KPI) Thresholds {
	th := Thresholds{Direction: k.Direction, Tolerance: k.Tolerance}
	if k.WarningBand != nil {
		th.WarningBand = *k.WarningBand
	}
	return th
}

// Reclassify returns k with status and trend recomputed.
func (c Classifier) Reclassify(k domain.KPI) domain.KPI {
	k.Status = c.Classify(k.CurrentValue, k.TargetValue, ThresholdsFor(k))
	k.Trend = c.Trend(k.History)
	return k
}

// Record returns a copy of k with the sample inserted in timestamp order.
// The current value becomes the latest sample's value.
func (c Classifier) Record(k domain.KPI, value float64, at time.Time, recordedBy string) domain.KPI {
	s := domain.Sample{At: at.UTC().Format(time.RFC3339), Value: value, RecordedBy: recordedBy}
	history := make([]domain.Sample, 0, len(k.History)+1)
	history = append(history, k.History...)
	idx := sort.Search(len(history), func(i int) bool { return history[i].At > s.At })
	history = append(history, domain.Sample{})
	copy(history[idx+1:], history[idx:])
	history[idx] = s

	k.History = history
	k.CurrentValue = history[len(history)-1].Value
	k.UpdatedAt = s.At
	return c.Reclassify(k)
}

// PercentOfTarget is current as a percentage of target; a zero target reads as 100.
func PercentOfTarget(current, target float64) float64 {
	if target == 0 {
		return 100
	}
	return current / target * 100
}

// Average is the mean of the history values, 0 when empty.
func Average(history []domain.Sample) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, s := range history {
		sum += s.Value
	}
	return sum / float64(len(history))
}
