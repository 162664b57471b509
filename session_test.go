package cwrx

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Detector.Backend = string(BackendGoertzel)
	cfg.Detector.ToneFreq = 750.0
	return cfg
}

// feedSession 按 1024 点块把信号送进会话
func feedSession(t *testing.T, s *Session, signal []float64) {
	t.Helper()
	for off := 0; off < len(signal); off += 1024 {
		end := off + 1024
		if end > len(signal) {
			end = len(signal)
		}
		block := SampleBlock{
			Samples:    signal[off:end],
			SampleRate: testRate,
			Start:      float64(off) / testRate,
		}
		if err := s.ProcessBlock(block); err != nil {
			t.Fatalf("ProcessBlock failed at offset %d: %v", off, err)
		}
	}
}

// morseA 20 WPM 的 ".-" 信号，带校准前导和尾部静默
func morseA() []float64 {
	unit := int(testUnit * testRate)
	var phase float64
	var signal []float64
	signal = append(signal, genTone(750.0, 0.1, 15360, &phase)...)
	signal = append(signal, genTone(750.0, 0.5, unit, &phase)...)
	signal = append(signal, genTone(750.0, 0.1, unit, &phase)...)
	signal = append(signal, genTone(750.0, 0.5, 3*unit, &phase)...)
	signal = append(signal, genTone(750.0, 0.1, 36000, &phase)...)
	return signal
}

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession(testConfig(), testLogger())

	if s.State() != StateIdle {
		t.Fatalf("Expected idle, got %s", s.State())
	}
	if err := s.ProcessBlock(SampleBlock{Samples: make([]float64, 64), SampleRate: testRate}); err != ErrSessionNotRunning {
		t.Fatalf("Expected ErrSessionNotRunning, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if s.State() != StateCalibrating {
		t.Errorf("Expected calibrating, got %s", s.State())
	}
	if err := s.Start(); err != ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	// 校准窗口过完后进入 listening
	var phase float64
	feedSession(t, s, genTone(750.0, 0.02, 15360, &phase))
	if s.State() != StateListening {
		t.Errorf("Expected listening, got %s", s.State())
	}

	s.Stop()
	if s.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", s.State())
	}
}

func TestSession_DecodesToTranscript(t *testing.T) {
	cfg := testConfig()
	s := NewSession(cfg, testLogger())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	feedSession(t, s, morseA())

	// 尾部字符与单词靠超时 tick 成文
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.CopyTranscript() == "A" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if got := s.CopyTranscript(); got != "A" {
		t.Fatalf("Expected transcript A, got %q", got)
	}

	snap := s.Snapshot()
	if len(snap.Transcript) != 1 || snap.Transcript[0].Text != "A" {
		t.Errorf("Snapshot transcript wrong: %+v", snap.Transcript)
	}
	if snap.Line != "" {
		t.Errorf("Line should be empty after finalize, got %q", snap.Line)
	}
	if snap.State != "listening" {
		t.Errorf("Expected listening state, got %s", snap.State)
	}

	// Clear 只清成文，不打断会话
	s.Clear()
	if s.CopyTranscript() != "" {
		t.Error("Clear should empty transcript")
	}
	if s.State() != StateListening {
		t.Error("Clear must not stop the session")
	}
}

func TestSession_StopDiscardsEverything(t *testing.T) {
	s := NewSession(testConfig(), testLogger())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	feedSession(t, s, morseA())
	s.Stop()

	snap := s.Snapshot()
	if snap.State != "idle" || len(snap.Transcript) != 0 || snap.Line != "" {
		t.Errorf("Stop should discard all state: %+v", snap)
	}
	if len(snap.Waveform) != 0 {
		t.Error("Stop should clear waveform ring")
	}
}

func TestSession_BackendSwitchRequiresIdle(t *testing.T) {
	s := NewSession(testConfig(), testLogger())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	if err := s.SelectBackend(BackendBandpass); err != ErrSessionActive {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}

	s.Stop()
	if err := s.SelectBackend(BackendBandpass); err != nil {
		t.Errorf("Backend switch while idle should succeed: %v", err)
	}
}

func TestSession_WPMOverride(t *testing.T) {
	s := NewSession(testConfig(), testLogger())

	if err := s.SetWPM(4); err == nil {
		t.Error("WPM below range must be rejected")
	}
	if err := s.SetWPM(61); err == nil {
		t.Error("WPM above range must be rejected")
	}
	if err := s.SetWPM(25); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().WPMOverride; got != 25 {
		t.Errorf("Expected override 25, got %d", got)
	}

	s.ClearWPM()
	if got := s.Snapshot().WPMOverride; got != 0 {
		t.Errorf("Expected override cleared, got %d", got)
	}
}

func TestSession_CaptureError(t *testing.T) {
	s := NewSession(testConfig(), testLogger())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.CaptureError(errors.New("device unplugged"))
	if s.State() != StateError {
		t.Fatalf("Expected error state, got %s", s.State())
	}
	if err := s.ProcessBlock(SampleBlock{Samples: make([]float64, 64), SampleRate: testRate}); err != ErrSessionNotRunning {
		t.Errorf("Expected ErrSessionNotRunning in error state, got %v", err)
	}
	if s.Snapshot().Error == "" {
		t.Error("Snapshot should carry the error message")
	}

	// 显式重启是唯一的恢复途径
	if err := s.Start(); err != nil {
		t.Fatalf("Restart from error state failed: %v", err)
	}
	if s.State() != StateCalibrating {
		t.Errorf("Expected calibrating after restart, got %s", s.State())
	}
	s.Stop()
}

func TestSession_ToneFrequencyValidation(t *testing.T) {
	s := NewSession(testConfig(), testLogger())
	if err := s.SetToneFrequency(-100); err == nil {
		t.Error("Negative frequency must be rejected")
	}
	if err := s.SetToneFrequency(650); err != nil {
		t.Errorf("Valid frequency rejected: %v", err)
	}
}

func TestQualityFromSNR(t *testing.T) {
	cases := []struct {
		snr  float64
		want NoiseQuality
	}{
		{25, QualityExcellent},
		{12, QualityGood},
		{7, QualityFair},
		{3, QualityPoor},
		{1, QualityUnusable},
	}
	for _, c := range cases {
		if got := QualityFromSNR(c.snr); got != c.want {
			t.Errorf("SNR %g: expected %s, got %s", c.snr, c.want, got)
		}
	}
}
