package config

// ConfigDiff describes which parts of the configuration changed between two
// loads. Only the sections that can be applied at runtime get their own
// flag; anything else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged     bool
	InterruptionChanged bool
	PlaybackChanged     bool
	VADThresholdChanged bool
	RecorderChanged     bool
	AssistantChanged    bool

	// RestartRequired is set when providers, memory, audio or the metrics
	// address changed.
	RestartRequired bool
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.InterruptionChanged || d.PlaybackChanged ||
		d.VADThresholdChanged || d.RecorderChanged || d.AssistantChanged || d.RestartRequired
}

// Diff compares old and new. A nil old reports everything as changed.
func Diff(old, new *Config) ConfigDiff {
	if old == nil {
		return ConfigDiff{
			LogLevelChanged:     true,
			InterruptionChanged: true,
			PlaybackChanged:     true,
			VADThresholdChanged: true,
			RecorderChanged:     true,
			AssistantChanged:    true,
			RestartRequired:     true,
		}
	}
	var d ConfigDiff
	d.LogLevelChanged = old.Server.LogLevel != new.Server.LogLevel
	d.InterruptionChanged = old.Interruption != new.Interruption
	d.PlaybackChanged = old.Playback != new.Playback
	d.VADThresholdChanged = old.VAD.Threshold != new.VAD.Threshold
	d.RecorderChanged = old.Recorder != new.Recorder
	d.AssistantChanged = old.Assistant != new.Assistant

	d.RestartRequired = old.Server.MetricsAddr != new.Server.MetricsAddr ||
		old.Memory != new.Memory ||
		old.Audio != new.Audio ||
		!sameProviders(old.Providers, new.Providers) ||
		old.VAD.Engine != new.VAD.Engine ||
		old.VAD.FrameMs != new.VAD.FrameMs ||
		old.VAD.AdaptiveFactor != new.VAD.AdaptiveFactor ||
		old.VAD.CalibrationDuration != new.VAD.CalibrationDuration ||
		old.VAD.CalibrationMultiplier != new.VAD.CalibrationMultiplier
	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	if a.Breaker != b.Breaker {
		return false
	}
	if !sameEntry(a.LLM, b.LLM) || !sameEntry(a.STT, b.STT) || !sameEntry(a.TTS, b.TTS) {
		return false
	}
	return sameEntries(a.LLMFallback, b.LLMFallback) &&
		sameEntries(a.STTFallback, b.STTFallback) &&
		sameEntries(a.TTSFallback, b.TTSFallback)
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares the scalar fields and option keys. Option values are
// compared by their printed form.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmtValue(av) != fmtValue(bv) {
			return false
		}
	}
	return true
}
