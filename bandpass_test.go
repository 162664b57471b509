package cwrx

import (
	"math"
	"math/rand"
	"testing"
)

const testRate = 48000.0

// genTone 生成正弦段，phase 用于跨段保持相位连续
func genTone(freq, amp float64, samples int, phase *float64) []float64 {
	out := make([]float64, samples)
	step := 2.0 * math.Pi * freq / testRate
	for i := range out {
		out[i] = amp * math.Sin(*phase)
		*phase += step
	}
	return out
}

// genNoise 生成固定种子的均匀白噪声段
func genNoise(amp float64, samples int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, samples)
	for i := range out {
		out[i] = amp * (2.0*rng.Float64() - 1.0)
	}
	return out
}

func TestBiquadBandpass_Selectivity(t *testing.T) {
	measure := func(freq float64) float64 {
		f := NewBiquadBandpass(testRate, 600.0, 2.0)
		var phase float64
		samples := genTone(freq, 1.0, 4800, &phase)

		// 前面的瞬态丢掉，只看稳态输出幅度
		peak := 0.0
		for i, s := range samples {
			out := f.Process(s)
			if i >= 4320 && math.Abs(out) > peak {
				peak = math.Abs(out)
			}
		}
		return peak
	}

	inBand := measure(600.0)
	outOfBand := measure(2400.0)

	if inBand < 0.8 {
		t.Errorf("In-band gain too low: %g", inBand)
	}
	if outOfBand > inBand/3 {
		t.Errorf("Insufficient rejection: in-band %g, 2400Hz %g", inBand, outOfBand)
	}
}

func TestEnvelopeFollower_AsymmetricResponse(t *testing.T) {
	env := NewEnvelopeFollower(testRate, 0.005, 0.020)

	// 快攻：15ms 的满幅输入应到达 0.8 以上
	var v float64
	for i := 0; i < 720; i++ {
		v = env.Process(1.0)
	}
	if v < 0.8 {
		t.Errorf("Attack too slow: %g after 15ms", v)
	}

	// 慢放：20ms 后应该还剩三分之一左右，80ms 后基本归零
	for i := 0; i < 960; i++ {
		v = env.Process(0.0)
	}
	if v < 0.2 || v > 0.5 {
		t.Errorf("Decay at 20ms out of range: %g", v)
	}
	for i := 0; i < 2880; i++ {
		v = env.Process(0.0)
	}
	if v > 0.05 {
		t.Errorf("Decay too slow: %g after 80ms", v)
	}
}

func TestBandpassDetector_CalibrationWindow(t *testing.T) {
	det, err := NewBandpassDetector(testRate, 600.0, 2.0, 2.0, 1.3, 100)
	if err != nil {
		t.Fatal(err)
	}

	var phase float64
	res := det.Process(SampleBlock{Samples: genTone(600.0, 0.5, 50, &phase), SampleRate: testRate, Start: 0})
	if !res.Calibrating {
		t.Error("Should still be calibrating after 50 samples")
	}
	if len(res.Events) != 0 {
		t.Errorf("Calibration must not emit events, got %d", len(res.Events))
	}

	res = det.Process(SampleBlock{Samples: genTone(600.0, 0.5, 4800, &phase), SampleRate: testRate, Start: 50.0 / testRate})
	if res.Calibrating {
		t.Error("Calibration should be complete")
	}
}

// TestBandpassDetector_Burst 在稳定载波背景上叠加一段强信号，
// 应产生恰好一对键控翻转，时间戳与突发边沿对齐
func TestBandpassDetector_Burst(t *testing.T) {
	// 校准 200ms，背景载波给底噪追踪一个确定的基线
	det, err := NewBandpassDetector(testRate, 600.0, 2.0, 2.0, 1.3, 9600)
	if err != nil {
		t.Fatal(err)
	}

	var phase float64
	var signal []float64
	signal = append(signal, genTone(600.0, 0.02, 14400, &phase)...) // 0 ~ 0.3s 背景
	signal = append(signal, genTone(600.0, 0.5, 14400, &phase)...)  // 0.3 ~ 0.6s 突发
	signal = append(signal, genTone(600.0, 0.02, 19200, &phase)...) // 0.6 ~ 1.0s 背景

	var events []KeyEvent
	for off := 0; off < len(signal); off += 1024 {
		end := off + 1024
		if end > len(signal) {
			end = len(signal)
		}
		res := det.Process(SampleBlock{
			Samples:    signal[off:end],
			SampleRate: testRate,
			Start:      float64(off) / testRate,
		})
		events = append(events, res.Events...)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events (down, up), got %d: %+v", len(events), events)
	}
	if !events[0].IsDown || events[1].IsDown {
		t.Fatalf("Expected down then up, got %+v", events)
	}
	if events[0].Timestamp < 0.30 || events[0].Timestamp > 0.32 {
		t.Errorf("Key-down timestamp off: %g", events[0].Timestamp)
	}
	// 键抬起带包络放音拖尾，允许 0.6 之后一段余量
	if events[1].Timestamp < 0.60 || events[1].Timestamp > 0.78 {
		t.Errorf("Key-up timestamp off: %g", events[1].Timestamp)
	}
	if det.DetectedFrequency() != 600.0 {
		t.Errorf("Bandpass backend must report configured frequency, got %g", det.DetectedFrequency())
	}
}

func TestBandpassDetector_SteadyCarrierNoEvents(t *testing.T) {
	det, err := NewBandpassDetector(testRate, 600.0, 2.0, 2.0, 1.3, 4800)
	if err != nil {
		t.Fatal(err)
	}

	// 校准后继续送同一电平的载波：不允许出现任何键控翻转
	var phase float64
	var events int
	for off := 0; off < 48000; off += 1024 {
		res := det.Process(SampleBlock{
			Samples:    genTone(600.0, 0.1, 1024, &phase),
			SampleRate: testRate,
			Start:      float64(off) / testRate,
		})
		events += len(res.Events)
	}
	if events != 0 {
		t.Errorf("Steady carrier produced %d events", events)
	}
}

// TestBandpassDetector_WhiteNoiseNoEvents 校准后继续送纯噪声，
// 不允许出现任何键控翻转
func TestBandpassDetector_WhiteNoiseNoEvents(t *testing.T) {
	for _, seed := range []int64{2, 7, 42, 99} {
		det, err := NewBandpassDetector(testRate, 600.0, 2.0, 2.0, 1.3, 4800)
		if err != nil {
			t.Fatal(err)
		}

		noise := genNoise(0.1, 5*48000, seed)
		var events int
		for off := 0; off < len(noise); off += 1024 {
			end := off + 1024
			if end > len(noise) {
				end = len(noise)
			}
			res := det.Process(SampleBlock{
				Samples:    noise[off:end],
				SampleRate: testRate,
				Start:      float64(off) / testRate,
			})
			events += len(res.Events)
		}
		if events != 0 {
			t.Errorf("Seed %d: white noise produced %d events", seed, events)
		}
	}
}

func TestBandpassDetector_Reset(t *testing.T) {
	det, _ := NewBandpassDetector(testRate, 600.0, 2.0, 2.0, 1.3, 100)

	var phase float64
	det.Process(SampleBlock{Samples: genTone(600.0, 0.1, 4800, &phase), SampleRate: testRate, Start: 0})

	det.Reset()
	res := det.Process(SampleBlock{Samples: genTone(600.0, 0.1, 50, &phase), SampleRate: testRate, Start: 0})
	if !res.Calibrating {
		t.Error("Reset should re-enter calibration")
	}
}
