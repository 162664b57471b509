package cwrx

import (
	"strings"
	"testing"
)

func TestLoadConfigFromReader_PartialOverride(t *testing.T) {
	yaml := `
detector:
  backend: goertzel
  tone_freq: 700
decoder:
  wpm_override: 25
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Detector.Backend != "goertzel" || cfg.Detector.ToneFreq != 700 {
		t.Errorf("Overrides not applied: %+v", cfg.Detector)
	}
	if cfg.Decoder.WPMOverride != 25 {
		t.Errorf("Expected wpm_override 25, got %d", cfg.Decoder.WPMOverride)
	}

	// 未出现的字段保留默认值
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("Default sample rate lost: %d", cfg.Audio.SampleRate)
	}
	if cfg.Detector.OnRatio != 2.0 || cfg.Detector.OffRatio != 1.3 {
		t.Errorf("Default ratios lost: %+v", cfg.Detector)
	}
}

func TestLoadConfigFromReader_Empty(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Detector.Backend != string(BackendBandpass) {
		t.Errorf("Empty config should yield defaults, got backend %s", cfg.Detector.Backend)
	}
}

func TestLoadConfigFromReader_UnknownField(t *testing.T) {
	yaml := `
detector:
  bandwidth: 100
`
	if _, err := LoadConfigFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("Unknown field must be rejected")
	}
}

func TestConfigValidate_HysteresisContract(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.OnRatio = 1.3
	cfg.Detector.OffRatio = 2.0
	if err := cfg.Validate(); err == nil {
		t.Error("on_ratio <= off_ratio must fail validation")
	}

	cfg = DefaultConfig()
	cfg.Detector.OnRatio = 1.5
	cfg.Detector.OffRatio = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Equal ratios must fail validation")
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Detector.Backend = "fft" }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"negative tone", func(c *Config) { c.Detector.ToneFreq = -600 }},
		{"wpm out of range", func(c *Config) { c.Decoder.WPMOverride = 80 }},
		{"inverted scan range", func(c *Config) {
			c.Detector.AdaptiveFreq = true
			c.Detector.MinFreq = 1000
			c.Detector.MaxFreq = 400
		}},
		{"zero tick", func(c *Config) { c.Decoder.TickMs = 0 }},
		{"zero calibration", func(c *Config) { c.Detector.CalibrationSamples = 0 }},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestConfigValidate_Default(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestParseBackend(t *testing.T) {
	if b, err := ParseBackend("bandpass"); err != nil || b != BackendBandpass {
		t.Errorf("bandpass: %v %v", b, err)
	}
	if b, err := ParseBackend("goertzel"); err != nil || b != BackendGoertzel {
		t.Errorf("goertzel: %v %v", b, err)
	}
	if _, err := ParseBackend("wavelet"); err == nil {
		t.Error("Unknown backend must error")
	}
}
