package scanner

import (
	"fmt"

	"nifty-breakout/internal/config"
	apperrors "nifty-breakout/internal/errors"
	"nifty-breakout/internal/models"
)

// Volume rule names accepted by scanner.volume_rule.
const (
	RuleMax          = "max"
	RuleMeanMultiple = "mean_multiple"
)

// VolumeRule decides whether today's volume breaks out of the reference
// window. Percentages reported on a ScanResult are always relative to the
// window maximum, whichever rule decides the break.
type VolumeRule interface {
	Name() string
	Break(todayVolume int64, reference []models.DayBar) bool
}

// MaxVolumeRule breaks when today's volume exceeds the highest reference
// volume.
type MaxVolumeRule struct{}

// Name implements VolumeRule.
func (MaxVolumeRule) Name() string { return RuleMax }

// Break implements VolumeRule.
func (MaxVolumeRule) Break(todayVolume int64, reference []models.DayBar) bool {
	return todayVolume > maxVolume(reference)
}

// MeanMultipleRule breaks when today's volume exceeds Multiple times the
// mean reference volume.
type MeanMultipleRule struct {
	Multiple float64
}

// Name implements VolumeRule.
func (r MeanMultipleRule) Name() string {
	return fmt.Sprintf("%s(%.2f)", RuleMeanMultiple, r.Multiple)
}

// Break implements VolumeRule.
func (r MeanMultipleRule) Break(todayVolume int64, reference []models.DayBar) bool {
	if len(reference) == 0 {
		return false
	}
	var total float64
	for _, b := range reference {
		total += float64(b.Volume)
	}
	mean := total / float64(len(reference))
	return float64(todayVolume) > r.Multiple*mean
}

// RuleFromConfig returns the configured volume rule.
func RuleFromConfig(cfg config.ScannerConfig) (VolumeRule, error) {
	switch cfg.VolumeRule {
	case "", RuleMax:
		return MaxVolumeRule{}, nil
	case RuleMeanMultiple:
		if cfg.VolumeMultiple <= 0 {
			return nil, apperrors.NewValidationError("scanner.volume_multiple", cfg.VolumeMultiple, "must be positive")
		}
		return MeanMultipleRule{Multiple: cfg.VolumeMultiple}, nil
	default:
		return nil, apperrors.NewValidationError("scanner.volume_rule", cfg.VolumeRule, "must be max or mean_multiple")
	}
}

func maxHigh(bars []models.DayBar) float64 {
	var m float64
	for _, b := range bars {
		if b.High > m {
			m = b.High
		}
	}
	return m
}

func maxVolume(bars []models.DayBar) int64 {
	var m int64
	for _, b := range bars {
		if b.Volume > m {
			m = b.Volume
		}
	}
	return m
}
