package interrupt

import (
	"errors"
	"fmt"
	"time"
)

// Config holds every tunable of the classifier. Volumes are normalised RMS
// in [0, 1]; band energies are on the 0..255 scale of byte frequency data.
type Config struct {
	// ExtremeVolume confirms an interruption on its own.
	ExtremeVolume float64

	// BaseThreshold separates "someone may be talking" from quiet.
	BaseThreshold float64

	// ConfirmThreshold is the accumulator score that must be strictly
	// exceeded after an increment to confirm.
	ConfirmThreshold float64

	VoiceIncrement     float64
	VolumeIncrement    float64
	TransientIncrement float64
	BroadbandDecrement float64

	// Decay is subtracted per quiet tick.
	Decay float64

	// SilenceReset hard-resets the accumulator once this long has passed
	// since the last tick above BaseThreshold.
	SilenceReset time.Duration

	Doorbell  DoorbellConfig
	Sneeze    SneezeConfig
	Transient TransientConfig
	Broadband BroadbandConfig
	Voice     VoiceConfig
}

// DoorbellConfig recognises tonal alerts concentrated in the mid-high band.
type DoorbellConfig struct {
	MinMidHigh float64
	// MidHigh must exceed Low and High by these factors.
	OverLow  float64
	OverHigh float64
	// A local peak must be louder than PeakMagnitude and louder than both
	// neighbouring bins by PeakProminence.
	PeakMagnitude  float64
	PeakProminence float64
	// VolumeFactor scales BaseThreshold to give the confirm volume.
	VolumeFactor float64
}

// SneezeConfig recognises loud high-frequency bursts.
type SneezeConfig struct {
	MinVolume   float64
	MinHigh     float64
	MinMid      float64
	HighOverLow float64
}

// TransientConfig recognises sudden percussive sounds.
type TransientConfig struct {
	// SpikeFactor: volume must reach this multiple of the previous tick.
	SpikeFactor float64
	HighOverLow float64
}

// BroadbandConfig recognises flat noise such as wind or fans.
type BroadbandConfig struct {
	MaxStdDev float64
	MinMean   float64
}

// VoiceConfig recognises sustained speech energy.
type VoiceConfig struct {
	MinLow         float64
	MinLowMid      float64
	LowOverMidHigh float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ExtremeVolume:      0.20,
		BaseThreshold:      0.06,
		ConfirmThreshold:   3.5,
		VoiceIncrement:     1.75,
		VolumeIncrement:    0.75,
		TransientIncrement: 0.5,
		BroadbandDecrement: 0.5,
		Decay:              0.75,
		SilenceReset:       400 * time.Millisecond,
		Doorbell: DoorbellConfig{
			MinMidHigh:     60,
			OverLow:        1.5,
			OverHigh:       1.2,
			PeakMagnitude:  80,
			PeakProminence: 1.3,
			VolumeFactor:   0.8,
		},
		Sneeze: SneezeConfig{
			MinVolume:   0.12,
			MinHigh:     70,
			MinMid:      50,
			HighOverLow: 1.8,
		},
		Transient: TransientConfig{
			SpikeFactor: 2,
			HighOverLow: 1.2,
		},
		Broadband: BroadbandConfig{
			MaxStdDev: 12,
			MinMean:   25,
		},
		Voice: VoiceConfig{
			MinLow:         45,
			MinLowMid:      40,
			LowOverMidHigh: 0.7,
		},
	}
}

// Validate reports every inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]float64{
		"extreme_volume":      c.ExtremeVolume,
		"base_threshold":      c.BaseThreshold,
		"confirm_threshold":   c.ConfirmThreshold,
		"voice_increment":     c.VoiceIncrement,
		"volume_increment":    c.VolumeIncrement,
		"transient_increment": c.TransientIncrement,
		"spike_factor":        c.Transient.SpikeFactor,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("interrupt: %s must be positive, got %v", name, v))
		}
	}
	if c.BaseThreshold >= c.ExtremeVolume {
		errs = append(errs, fmt.Errorf("interrupt: base_threshold %v must be below extreme_volume %v", c.BaseThreshold, c.ExtremeVolume))
	}
	if c.Decay < 0 || c.BroadbandDecrement < 0 {
		errs = append(errs, errors.New("interrupt: decay and broadband_decrement must not be negative"))
	}
	if c.SilenceReset <= 0 {
		errs = append(errs, fmt.Errorf("interrupt: silence_reset must be positive, got %v", c.SilenceReset))
	}
	return errors.Join(errs...)
}
