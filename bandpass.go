package cwrx

import (
	"math"

	"cwrx/Filters"
)

// BiquadBandpass 二阶 IIR 带通滤波器 (RBJ audio EQ cookbook, 0dB 峰值增益)
// 采用 Direct Form II Transposed 结构，数值上比 DF1 稳定
type BiquadBandpass struct {
	// 归一化系数
	b0, b1, b2 float64
	a1, a2     float64
	// 延迟线
	s1, s2 float64
}

// NewBiquadBandpass 创建带通滤波器
// centerFreq: 中心频率 (Hz)
// q: 品质因数。2.0 左右带宽较宽，能容忍音调漂移
func NewBiquadBandpass(sampleRate, centerFreq, q float64) *BiquadBandpass {
	f := &BiquadBandpass{}
	f.design(sampleRate, centerFreq, q)
	return f
}

func (f *BiquadBandpass) design(sampleRate, centerFreq, q float64) {
	// 限制中心频率，防止 Nyquist 附近数值不稳定
	if centerFreq >= sampleRate*0.45 {
		centerFreq = sampleRate * 0.45
	}
	omega := 2.0 * math.Pi * centerFreq / sampleRate
	alpha := math.Sin(omega) / (2.0 * q)

	a0 := 1.0 + alpha
	f.b0 = alpha / a0
	f.b1 = 0
	f.b2 = -alpha / a0
	f.a1 = -2.0 * math.Cos(omega) / a0
	f.a2 = (1.0 - alpha) / a0
}

// Process 处理单个采样点
func (f *BiquadBandpass) Process(in float64) float64 {
	// DF2T: y = b0*x + s1; s1 = b1*x - a1*y + s2; s2 = b2*x - a2*y
	out := f.b0*in + f.s1
	f.s1 = f.b1*in - f.a1*out + f.s2
	f.s2 = f.b2*in - f.a2*out
	return out
}

// Reset 清空延迟线
func (f *BiquadBandpass) Reset() {
	f.s1 = 0
	f.s2 = 0
}

// EnvelopeFollower 非对称包络跟随器
// 快攻 (约 5ms) 捕捉音调起始沿，慢放 (约 20ms) 在字符内的短间隙间架桥，
// 但不会把字符间隙抹平
type EnvelopeFollower struct {
	attackAlpha float64
	decayAlpha  float64
	value       float64
}

// NewEnvelopeFollower 创建跟随器，attack/decay 以秒为单位
func NewEnvelopeFollower(sampleRate, attackSec, decaySec float64) *EnvelopeFollower {
	return &EnvelopeFollower{
		attackAlpha: 1.0 - math.Exp(-1.0/(sampleRate*attackSec)),
		decayAlpha:  1.0 - math.Exp(-1.0/(sampleRate*decaySec)),
	}
}

// Process 输入滤波后的采样，输出整流 + 平滑后的包络
func (e *EnvelopeFollower) Process(in float64) float64 {
	mag := math.Abs(in)
	if mag > e.value {
		e.value += (mag - e.value) * e.attackAlpha
	} else {
		e.value += (mag - e.value) * e.decayAlpha
	}
	return e.value
}

// Reset 清零
func (e *EnvelopeFollower) Reset() { e.value = 0 }

// 显示峰值的 running max 衰减系数 (每采样)
// 输入电平变化时电平表能跟着适应，而不是瞬间削顶
const displayPeakDecay = 0.9999

// 波形遥测的降采样倍率
const envelopeDecimation = 16

// BandpassDetector 带通 + 包络检测后端
type BandpassDetector struct {
	sampleRate float64
	toneFreq   float64
	q          float64

	filter *BiquadBandpass
	env    *EnvelopeFollower
	thresh *Filters.AdaptiveThreshold

	runningMax float64
	lastPeak   float64
}

// NewBandpassDetector 创建后端
func NewBandpassDetector(sampleRate, toneFreq, q, onRatio, offRatio float64, calibrationSamples int) (*BandpassDetector, error) {
	thresh, err := Filters.NewAdaptiveThreshold(onRatio, offRatio, calibrationSamples)
	if err != nil {
		return nil, err
	}
	return &BandpassDetector{
		sampleRate: sampleRate,
		toneFreq:   toneFreq,
		q:          q,
		filter:     NewBiquadBandpass(sampleRate, toneFreq, q),
		env:        NewEnvelopeFollower(sampleRate, 0.005, 0.020),
		thresh:     thresh,
		runningMax: 1e-4,
	}, nil
}

// Process 处理一个音频块，输出键控翻转与遥测
func (d *BandpassDetector) Process(block SampleBlock) SignalResult {
	res := SignalResult{
		Envelope: make([]float64, 0, len(block.Samples)/envelopeDecimation+1),
	}

	for i, s := range block.Samples {
		filtered := d.filter.Process(s)
		envelope := d.env.Process(filtered)

		// 显示峰值归一化
		d.runningMax *= displayPeakDecay
		if envelope > d.runningMax {
			d.runningMax = envelope
		}
		d.lastPeak = envelope / d.runningMax
		if d.lastPeak > 1.0 {
			d.lastPeak = 1.0
		}

		if i%envelopeDecimation == 0 {
			res.Envelope = append(res.Envelope, envelope)
		}

		down, changed := d.thresh.Update(envelope)
		if changed {
			res.Events = append(res.Events, KeyEvent{
				IsDown:    down,
				Timestamp: block.Start + float64(i)/d.sampleRate,
			})
		}
	}

	res.KeyDown = d.thresh.KeyDown()
	res.Peak = d.lastPeak
	res.NoiseFloor = d.thresh.NoiseFloor()
	res.SNR = d.thresh.SNR()
	res.Calibrating = d.thresh.Calibrating()
	return res
}

// SetToneFrequency 重新设计滤波器系数，延迟线保留
func (d *BandpassDetector) SetToneFrequency(hz float64) {
	d.toneFreq = hz
	d.filter.design(d.sampleRate, hz, d.q)
}

// Reset 回到初始状态 (重新校准)
func (d *BandpassDetector) Reset() {
	d.filter.Reset()
	d.env.Reset()
	d.thresh.Reset()
	d.runningMax = 1e-4
	d.lastPeak = 0
}

// DetectedFrequency 带通后端不做频率跟踪，返回配置频率
func (d *BandpassDetector) DetectedFrequency() float64 { return d.toneFreq }
