package cwrx

import "cwrx/Classifier"

// NoiseQuality 底噪质量档位 (五档)，由当前线性信噪比离散化得到
type NoiseQuality string

const (
	QualityExcellent NoiseQuality = "excellent"
	QualityGood      NoiseQuality = "good"
	QualityFair      NoiseQuality = "fair"
	QualityPoor      NoiseQuality = "poor"
	QualityUnusable  NoiseQuality = "unusable"
)

// QualityFromSNR 线性 SNR 分档
func QualityFromSNR(snr float64) NoiseQuality {
	switch {
	case snr >= 20:
		return QualityExcellent
	case snr >= 10:
		return QualityGood
	case snr >= 5:
		return QualityFair
	case snr >= 2.5:
		return QualityPoor
	}
	return QualityUnusable
}

// Snapshot 面向 UI 的只读遥测快照
// 每次取快照都复制切片，消费者拿不到指向会话内部状态的引用
type Snapshot struct {
	State       string                        `json:"state"`
	Error       string                        `json:"error,omitempty"`
	Waveform    []float64                     `json:"waveform"`
	Peak        float64                       `json:"peak"`
	NoiseFloor  float64                       `json:"noise_floor"`
	Quality     NoiseQuality                  `json:"quality"`
	WPM         int                           `json:"wpm"`
	WPMOverride int                           `json:"wpm_override,omitempty"`
	Frequency   float64                       `json:"frequency,omitempty"` // 仅自适应模式
	Line        string                        `json:"line"`
	Transcript  []Classifier.TranscriptEntry  `json:"transcript"`
	Callsigns   []Classifier.DetectedCallsign `json:"callsigns"`
}

// waveformRing 波形显示用的环形缓冲区
type waveformRing struct {
	buf  []float64
	pos  int
	full bool
}

func newWaveformRing(size int) *waveformRing {
	return &waveformRing{buf: make([]float64, size)}
}

// Push 写入一批包络采样
func (r *waveformRing) Push(samples []float64) {
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos = (r.pos + 1) % len(r.buf)
		if r.pos == 0 {
			r.full = true
		}
	}
}

// Snapshot 按时间顺序复制出当前内容
func (r *waveformRing) Snapshot() []float64 {
	if !r.full {
		out := make([]float64, r.pos)
		copy(out, r.buf[:r.pos])
		return out
	}
	out := make([]float64, len(r.buf))
	n := copy(out, r.buf[r.pos:])
	copy(out[n:], r.buf[:r.pos])
	return out
}

// Reset 清空
func (r *waveformRing) Reset() {
	r.pos = 0
	r.full = false
}
