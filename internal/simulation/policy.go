package simulation

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy holds the fleet-tuning constants of the state machine.
type Policy struct {
	MinSpeed float64 `mapstructure:"min_speed"`
	MaxSpeed float64 `mapstructure:"max_speed"`
	// ResumeSpeedVariation bounds the speed change applied when a pause ends.
	ResumeSpeedVariation float64 `mapstructure:"resume_speed_variation"`
	// SpeedVariationChance is the per-tick probability of nudging speed by
	// up to SpeedVariationDelta while moving.
	SpeedVariationChance float64 `mapstructure:"speed_variation_chance"`
	SpeedVariationDelta  float64 `mapstructure:"speed_variation_delta"`

	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	PauseProbability         float64       `mapstructure:"pause_probability"`
	DefectOnPauseProbability float64       `mapstructure:"defect_on_pause_probability"`
	PauseMin                 time.Duration `mapstructure:"pause_min"`
	PauseMax                 time.Duration `mapstructure:"pause_max"`

	DefectDwellMin time.Duration `mapstructure:"defect_dwell_min"`
	DefectDwellMax time.Duration `mapstructure:"defect_dwell_max"`

	NotificationInterval   time.Duration `mapstructure:"notification_interval"`
	MaxDefectNotifications int           `mapstructure:"max_defect_notifications"`
	MaxReturnNotifications int           `mapstructure:"max_return_notifications"`
}

// DefaultPolicy returns the tuning the fleet demo runs with.
func DefaultPolicy() Policy {
	return Policy{
		MinSpeed:                 40,
		MaxSpeed:                 150,
		ResumeSpeedVariation:     45,
		SpeedVariationChance:     0.25,
		SpeedVariationDelta:      8,
		ReconcileInterval:        30 * time.Second,
		PauseProbability:         0.2,
		DefectOnPauseProbability: 0.2,
		PauseMin:                 10 * time.Second,
		PauseMax:                 30 * time.Second,
		DefectDwellMin:           2 * time.Minute,
		DefectDwellMax:           10 * time.Minute,
		NotificationInterval:     30 * time.Second,
		MaxDefectNotifications:   2,
		MaxReturnNotifications:   2,
	}
}

// Validate checks that ranges are ordered and probabilities lie in [0, 1].
func (p Policy) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"min_speed":              p.MinSpeed,
		"max_speed":              p.MaxSpeed,
		"resume_speed_variation": p.ResumeSpeedVariation,
		"speed_variation_delta":  p.SpeedVariationDelta,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s %v is not a finite number", name, v))
		}
	}
	if p.MinSpeed < 0 || p.MaxSpeed < p.MinSpeed {
		errs = append(errs, fmt.Errorf("speed range [%v, %v] is invalid", p.MinSpeed, p.MaxSpeed))
	}
	if p.PauseMin < 0 || p.PauseMax < p.PauseMin {
		errs = append(errs, fmt.Errorf("pause range [%v, %v] is invalid", p.PauseMin, p.PauseMax))
	}
	if p.DefectDwellMin < 0 || p.DefectDwellMax < p.DefectDwellMin {
		errs = append(errs, fmt.Errorf("defect dwell range [%v, %v] is invalid", p.DefectDwellMin, p.DefectDwellMax))
	}
	for name, v := range map[string]float64{
		"pause_probability":           p.PauseProbability,
		"defect_on_pause_probability": p.DefectOnPauseProbability,
		"speed_variation_chance":      p.SpeedVariationChance,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %v is outside [0, 1]", name, v))
		}
	}
	if p.MaxDefectNotifications < 0 || p.MaxReturnNotifications < 0 {
		errs = append(errs, errors.New("notification caps must not be negative"))
	}
	return errors.Join(errs...)
}

func (p Policy) clampSpeed(v float64) float64 {
	if v < p.MinSpeed {
		return p.MinSpeed
	}
	if v > p.MaxSpeed {
		return p.MaxSpeed
	}
	return v
}
