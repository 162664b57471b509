package cwrx

import (
	"math"

	"github.com/mjibson/go-dsp/window"

	"cwrx/Filters"
)

// Goertzel 单频能量检测器
type Goertzel struct {
	sampleRate float64
	targetFreq float64
	coeff      float64
	s1         float64
	s2         float64
}

// NewGoertzel 初始化算法
// coeff = 2 * cos(2 * PI * targetFreq / sampleRate)
func NewGoertzel(sampleRate, targetFreq float64) *Goertzel {
	g := &Goertzel{sampleRate: sampleRate}
	g.Retune(targetFreq)
	return g
}

// Retune 切换目标频率并清空状态
func (g *Goertzel) Retune(targetFreq float64) {
	g.targetFreq = targetFreq
	g.coeff = 2.0 * math.Cos(2.0*math.Pi*targetFreq/g.sampleRate)
	g.Reset()
}

// Reset 重置递推状态，每处理完一个块后调用
func (g *Goertzel) Reset() {
	g.s1 = 0
	g.s2 = 0
}

// ProcessSample 处理单个 (已加窗的) 采样点
// s0 = sample + coeff*s1 - s2
func (g *Goertzel) ProcessSample(sample float64) {
	s0 := sample + g.coeff*g.s1 - g.s2
	g.s2 = g.s1
	g.s1 = s0
}

// Magnitude 计算当前块的幅度
// magnitude^2 = s1^2 + s2^2 - coeff*s1*s2
func (g *Goertzel) Magnitude() float64 {
	magSquared := g.s1*g.s1 + g.s2*g.s2 - g.coeff*g.s1*g.s2
	if magSquared < 0 {
		return 0
	}
	return math.Sqrt(magSquared)
}

// Goertzel 后端的扫描参数
const (
	scanBankSize     = 9    // 自适应模式下的扫描点数
	scanEveryBlocks  = 32   // 每多少块评估一次扫描结果 (128 点块约 93ms)
	scanSmoothAlpha  = 0.2  // 频率平滑学习率
	scanRetuneHz     = 5.0  // 偏差超过此值才重调主检测器，防止反复抖动
	scanRequiredSNR  = 4.0  // 扫描峰相对均值的最小比值
	coarseLockFFT    = 2048 // 校准结束时粗锁频用的 FFT 点数
	coarseLockMinMag = 0.01 // 粗锁频的最小归一化幅度
)

// GoertzelDetector Goertzel 后端
// 固定频率模式下对外契约与带通后端完全一致；
// 自适应模式额外在 [minFreq, maxFreq] 内跟踪实际音调频率
type GoertzelDetector struct {
	sampleRate float64
	toneFreq   float64
	blockSize  int
	win        []float64

	main   *Goertzel
	env    *EnvelopeFollower
	thresh *Filters.AdaptiveThreshold

	// 块累积
	buf        []float64
	blockStart float64
	haveStart  bool

	runningMax float64
	lastPeak   float64

	// 自适应频率跟踪
	adaptive     bool
	minFreq      float64
	maxFreq      float64
	bank         []*Goertzel
	bankMags     []float64
	blockCount   int
	smoothedFreq float64
	hasLock      bool

	// 粗锁频：校准期间积累原始采样，窗口结束时做一次 FFT
	analyzer   *SpectrumAnalyzer
	calibBuf   []float64
	coarseDone bool
}

// NewGoertzelDetector 创建后端
// blockSize 约 128 (44.1kHz 下约 3ms)；adaptive 为 true 时在
// [minFreq, maxFreq] 内自动跟踪音调，否则锁定 toneFreq
func NewGoertzelDetector(sampleRate, toneFreq float64, blockSize int, adaptive bool, minFreq, maxFreq float64, onRatio, offRatio float64, calibrationSamples int) (*GoertzelDetector, error) {
	thresh, err := Filters.NewAdaptiveThreshold(onRatio, offRatio, calibrationSamples)
	if err != nil {
		return nil, err
	}
	// 单块幅度的块间起伏远大于迟滞带，噪声尖峰会直接打穿 onRatio；
	// 在块速率 (约 375Hz) 上做一次快攻慢放平滑再送判决
	env := NewEnvelopeFollower(sampleRate/float64(blockSize), 0.008, 0.020)
	d := &GoertzelDetector{
		sampleRate:   sampleRate,
		toneFreq:     toneFreq,
		blockSize:    blockSize,
		win:          window.Hamming(blockSize),
		main:         NewGoertzel(sampleRate, toneFreq),
		env:          env,
		thresh:       thresh,
		buf:          make([]float64, 0, blockSize),
		runningMax:   1e-4,
		adaptive:     adaptive,
		minFreq:      minFreq,
		maxFreq:      maxFreq,
		smoothedFreq: toneFreq,
	}
	if adaptive {
		d.analyzer = NewSpectrumAnalyzer(sampleRate, coarseLockFFT)
		d.bank = make([]*Goertzel, scanBankSize)
		d.bankMags = make([]float64, scanBankSize)
		for i := range d.bank {
			d.bank[i] = NewGoertzel(sampleRate, d.scanFreq(i))
		}
	}
	return d, nil
}

// scanFreq 扫描组第 i 路的频率，均匀铺满 [minFreq, maxFreq]
func (d *GoertzelDetector) scanFreq(i int) float64 {
	step := (d.maxFreq - d.minFreq) / float64(scanBankSize-1)
	return d.minFreq + float64(i)*step
}

// Process 处理一个音频块
// 内部按 blockSize 重新分块，每个完整的小块产生一个包络点并送入判决
func (d *GoertzelDetector) Process(block SampleBlock) SignalResult {
	res := SignalResult{}

	wasCalibrating := d.thresh.Calibrating()

	for i, s := range block.Samples {
		if !d.haveStart {
			d.blockStart = block.Start + float64(i)/d.sampleRate
			d.haveStart = true
		}
		d.buf = append(d.buf, s)
		if wasCalibrating && d.adaptive && !d.coarseDone {
			d.calibBuf = append(d.calibBuf, s)
		}
		if len(d.buf) < d.blockSize {
			continue
		}

		mag := d.env.Process(d.processBlock())
		res.Envelope = append(res.Envelope, mag)

		// 显示峰值归一化
		d.runningMax *= displayPeakDecay
		if mag > d.runningMax {
			d.runningMax = mag
		}
		d.lastPeak = mag / d.runningMax
		if d.lastPeak > 1.0 {
			d.lastPeak = 1.0
		}

		// 判决时间戳取小块的末尾
		ts := d.blockStart + float64(d.blockSize)/d.sampleRate
		down, changed := d.thresh.Update(mag)
		if changed {
			res.Events = append(res.Events, KeyEvent{IsDown: down, Timestamp: ts})
		}

		d.buf = d.buf[:0]
		d.haveStart = false
	}

	// 校准窗口刚结束：用积累的原始采样做一次 FFT 粗锁频
	if d.adaptive && wasCalibrating && !d.thresh.Calibrating() && !d.coarseDone {
		d.coarseLock()
	}

	res.KeyDown = d.thresh.KeyDown()
	res.Peak = d.lastPeak
	res.NoiseFloor = d.thresh.NoiseFloor()
	res.SNR = d.thresh.SNR()
	res.Calibrating = d.thresh.Calibrating()
	return res
}

// processBlock 对累积好的 blockSize 个采样加 Hamming 窗并计算幅度
// 自适应模式下同一块也喂给扫描组
func (d *GoertzelDetector) processBlock() float64 {
	for i, s := range d.buf {
		w := s * d.win[i]
		d.main.ProcessSample(w)
		if d.adaptive {
			for _, g := range d.bank {
				g.ProcessSample(w)
			}
		}
	}
	mag := d.main.Magnitude() * 2.0 / float64(d.blockSize)
	d.main.Reset()

	if d.adaptive {
		for i, g := range d.bank {
			d.bankMags[i] += g.Magnitude()
			g.Reset()
		}
		d.blockCount++
		if d.blockCount >= scanEveryBlocks {
			d.evaluateScan()
		}
	}
	return mag
}

// evaluateScan 周期性评估扫描组，平滑跟踪主频
func (d *GoertzelDetector) evaluateScan() {
	best := 0
	sum := 0.0
	for i, m := range d.bankMags {
		sum += m
		if m > d.bankMags[best] {
			best = i
		}
	}
	mean := sum / float64(len(d.bankMags))
	peak := d.bankMags[best]

	for i := range d.bankMags {
		d.bankMags[i] = 0
	}
	d.blockCount = 0

	// 峰不够突出就不动，防止纯噪声拉跑频率
	if mean <= 0 || peak < mean*scanRequiredSNR {
		return
	}

	freq := d.scanFreq(best)
	if !d.hasLock {
		d.smoothedFreq = freq
		d.hasLock = true
	} else {
		d.smoothedFreq = d.smoothedFreq*(1-scanSmoothAlpha) + freq*scanSmoothAlpha
	}

	if math.Abs(d.smoothedFreq-d.toneFreq) > scanRetuneHz {
		d.toneFreq = d.smoothedFreq
		d.main.Retune(d.smoothedFreq)
	}
}

// coarseLock 校准结束时的一次性 FFT 锁频
func (d *GoertzelDetector) coarseLock() {
	d.coarseDone = true
	freq, mag, noise := d.analyzer.FindDominantFrequency(d.calibBuf, d.minFreq, d.maxFreq)
	d.calibBuf = nil
	if freq == 0 || mag < coarseLockMinMag || mag < noise*scanRequiredSNR {
		return
	}
	d.smoothedFreq = freq
	d.hasLock = true
	d.toneFreq = freq
	d.main.Retune(freq)
}

// SetToneFrequency 设置固定目标频率
// 自适应模式下作为跟踪起点，之后仍会跟随实际信号
func (d *GoertzelDetector) SetToneFrequency(hz float64) {
	d.toneFreq = hz
	d.smoothedFreq = hz
	d.main.Retune(hz)
}

// Reset 回到初始状态 (重新校准、重新锁频)
func (d *GoertzelDetector) Reset() {
	d.main.Reset()
	d.env.Reset()
	d.thresh.Reset()
	d.buf = d.buf[:0]
	d.haveStart = false
	d.runningMax = 1e-4
	d.lastPeak = 0
	d.blockCount = 0
	d.hasLock = false
	d.coarseDone = false
	d.calibBuf = nil
	if d.adaptive {
		for i := range d.bankMags {
			d.bankMags[i] = 0
		}
		for _, g := range d.bank {
			g.Reset()
		}
	}
}

// DetectedFrequency 当前跟踪到的音调频率
func (d *GoertzelDetector) DetectedFrequency() float64 {
	if d.adaptive {
		return d.smoothedFreq
	}
	return d.toneFreq
}
