package cwrx

import (
	"math/cmplx"
	"sort"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// SpectrumAnalyzer 用于粗锁频：在限定频段内找出主频
// 自适应模式下 Goertzel 后端在校准窗口结束时用它确定初始音调频率，
// 之后的细跟踪交给 Goertzel 扫描组
type SpectrumAnalyzer struct {
	SampleRate float64
	FFTSize    int
	win        []float64
}

// NewSpectrumAnalyzer 创建分析器
func NewSpectrumAnalyzer(sampleRate float64, fftSize int) *SpectrumAnalyzer {
	return &SpectrumAnalyzer{
		SampleRate: sampleRate,
		FFTSize:    fftSize,
		win:        window.Hamming(fftSize),
	}
}

// FindDominantFrequency 在 [minFreq, maxFreq] 内寻找主频
// 返回: 主频 (Hz)、归一化峰值幅度、频段内的底噪 (中值)
// 数据不足 FFTSize 时返回全零
func (sa *SpectrumAnalyzer) FindDominantFrequency(samples []float64, minFreq, maxFreq float64) (freq, mag, noiseFloor float64) {
	if len(samples) < sa.FFTSize {
		return 0, 0, 0
	}

	// 取最新的 FFTSize 个点加窗
	input := samples[len(samples)-sa.FFTSize:]
	windowed := make([]float64, sa.FFTSize)
	for i, v := range input {
		windowed[i] = v * sa.win[i]
	}

	spectrum := fft.FFTReal(windowed)

	binWidth := sa.SampleRate / float64(sa.FFTSize)
	startIndex := int(minFreq / binWidth)
	endIndex := int(maxFreq / binWidth)
	if startIndex < 1 {
		startIndex = 1
	}
	if endIndex > len(spectrum)/2 {
		endIndex = len(spectrum) / 2
	}
	if endIndex <= startIndex {
		return 0, 0, 0
	}

	mags := make([]float64, 0, endIndex-startIndex)
	maxMag := 0.0
	maxIndex := startIndex
	for i := startIndex; i < endIndex; i++ {
		m := cmplx.Abs(spectrum[i])
		mags = append(mags, m)
		if m > maxMag {
			maxMag = m
			maxIndex = i
		}
	}

	// 底噪取频段内幅度中值，抗单峰干扰；与峰值用同一归一化尺度
	sorted := make([]float64, len(mags))
	copy(sorted, mags)
	sort.Float64s(sorted)
	noiseFloor = sorted[len(sorted)/2] * 2.0 / float64(sa.FFTSize)
	if noiseFloor < 1e-9 {
		noiseFloor = 1e-9
	}

	// 抛物线插值细化峰值位置
	// p = 0.5 * (alpha - gamma) / (alpha - 2*beta + gamma)
	freq = float64(maxIndex) * binWidth
	if maxIndex > 0 && maxIndex < len(spectrum)/2-1 {
		alpha := cmplx.Abs(spectrum[maxIndex-1])
		beta := maxMag
		gamma := cmplx.Abs(spectrum[maxIndex+1])
		denom := alpha - 2*beta + gamma
		if denom != 0 {
			p := 0.5 * (alpha - gamma) / denom
			freq = (float64(maxIndex) + p) * binWidth
		}
	}

	// 归一化 FFT 幅度
	mag = maxMag * 2.0 / float64(sa.FFTSize)
	return freq, mag, noiseFloor
}
