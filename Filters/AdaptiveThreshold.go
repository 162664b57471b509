package Filters

import "fmt"

// AdaptiveThreshold 实现双路包络追踪 + 迟滞键控判决。
// noiseFloor 缓慢跟随安静段的基线，signalPeak 快攻慢放跟随信号顶部，
// 判决使用 ratio = sample / noiseFloor：
//
//	ratio > onRatio  -> 键按下
//	ratio < offRatio -> 键抬起
//
// onRatio 必须严格大于 offRatio，两者之间就是迟滞带，
// 保证稳定输入电平下不会来回抖动。
type AdaptiveThreshold struct {
	// 判决参数
	onRatio  float64
	offRatio float64

	// 追踪状态
	noiseFloor float64
	signalPeak float64
	keyDown    bool

	// 校准窗口：前 calibTotal 个采样只用来播种 noiseFloor/signalPeak，
	// 期间不产生任何键控翻转
	calibTotal int
	calibSeen  int
}

// 追踪系数。对带通后端 (每音频采样一次) 和 Goertzel 后端
// (每块一次，约 375 次/秒) 共用一套。
const (
	peakDecay      = 0.9995
	noiseFallAlpha = 0.2    // 底噪快速跟随更低的样本
	noiseRiseAlpha = 0.0005 // 底噪缓慢向上漂移
	floorMin       = 1e-6   // 防止除零
)

// NewAdaptiveThreshold 创建追踪器
// onRatio/offRatio: 迟滞判决比例 (默认 2.0 / 1.3)
// calibrationSamples: 校准采样数 (默认 100)
func NewAdaptiveThreshold(onRatio, offRatio float64, calibrationSamples int) (*AdaptiveThreshold, error) {
	if onRatio <= offRatio {
		return nil, fmt.Errorf("onRatio (%.2f) must be greater than offRatio (%.2f)", onRatio, offRatio)
	}
	if calibrationSamples <= 0 {
		return nil, fmt.Errorf("calibrationSamples must be positive, got %d", calibrationSamples)
	}
	return &AdaptiveThreshold{
		onRatio:    onRatio,
		offRatio:   offRatio,
		noiseFloor: floorMin,
		calibTotal: calibrationSamples,
	}, nil
}

// Update 输入一个包络采样，返回 (当前键控状态, 本次是否翻转)。
// 校准窗口内永远返回 (false, false)。
func (at *AdaptiveThreshold) Update(sample float64) (down, changed bool) {
	if sample < 0 {
		sample = -sample
	}

	if at.calibSeen < at.calibTotal {
		at.seed(sample)
		return false, false
	}

	// 峰值追踪：快攻慢放
	if sample > at.signalPeak {
		at.signalPeak = sample
	} else {
		at.signalPeak *= peakDecay
	}

	// 底噪追踪：向下快跟；向上只在键抬起时慢漂，
	// 键按下期间冻结，否则一个长划就能把底噪抬到信号电平
	if sample < at.noiseFloor {
		at.noiseFloor += (sample - at.noiseFloor) * noiseFallAlpha
	} else if !at.keyDown {
		at.noiseFloor += (sample - at.noiseFloor) * noiseRiseAlpha
	}
	if at.noiseFloor < floorMin {
		at.noiseFloor = floorMin
	}

	ratio := sample / at.noiseFloor

	// 迟滞判决
	if at.keyDown {
		if ratio < at.offRatio {
			at.keyDown = false
			return false, true
		}
	} else {
		if ratio > at.onRatio {
			at.keyDown = true
			return true, true
		}
	}
	return at.keyDown, false
}

// seed 校准阶段：用指数平均播种两条基线
func (at *AdaptiveThreshold) seed(sample float64) {
	at.calibSeen++
	if at.calibSeen == 1 {
		at.noiseFloor = sample
		at.signalPeak = sample
	} else {
		at.noiseFloor += (sample - at.noiseFloor) * 0.05
		if sample > at.signalPeak {
			at.signalPeak = sample
		}
	}
	if at.noiseFloor < floorMin {
		at.noiseFloor = floorMin
	}
}

// Calibrating 是否仍在校准窗口内
func (at *AdaptiveThreshold) Calibrating() bool {
	return at.calibSeen < at.calibTotal
}

// KeyDown 当前键控状态
func (at *AdaptiveThreshold) KeyDown() bool { return at.keyDown }

// NoiseFloor 当前底噪估计
func (at *AdaptiveThreshold) NoiseFloor() float64 { return at.noiseFloor }

// SignalPeak 当前信号峰值估计
func (at *AdaptiveThreshold) SignalPeak() float64 { return at.signalPeak }

// SNR 返回 signalPeak / noiseFloor 的线性信噪比
func (at *AdaptiveThreshold) SNR() float64 {
	if at.noiseFloor <= 0 {
		return 0
	}
	return at.signalPeak / at.noiseFloor
}

// Reset 回到初始状态，重新进入校准窗口
func (at *AdaptiveThreshold) Reset() {
	at.noiseFloor = floorMin
	at.signalPeak = 0
	at.keyDown = false
	at.calibSeen = 0
}
