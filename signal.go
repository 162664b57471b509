package cwrx

import (
	"errors"
	"fmt"
)

// SampleBlock 一块按时间顺序到达的音频采样
// 由外部采集器 (malgo / wav 回放) 生成，进入管线后不再修改
type SampleBlock struct {
	Samples    []float64 // 归一化采样 (-1.0 ~ 1.0)
	SampleRate float64   // 采样率 (Hz)
	Start      float64   // 块内第一个采样的时间戳 (秒)，全程单调递增
}

// End 返回块内最后一个采样之后的时间戳
func (b SampleBlock) End() float64 {
	return b.Start + float64(len(b.Samples))/b.SampleRate
}

// KeyEvent 一次键控状态翻转
// 同一会话内时间戳严格递增
type KeyEvent struct {
	IsDown    bool    // true = 键按下 (有音)，false = 键抬起 (静音)
	Timestamp float64 // 翻转发生的时间 (秒)
}

// SignalResult 每处理完一个 SampleBlock 输出一份
type SignalResult struct {
	Events      []KeyEvent // 本块内检测到的键控翻转 (按时间排序)
	KeyDown     bool       // 块结束时的键控状态
	Peak        float64    // 显示用峰值 (0~1，相对缓慢衰减的 running max 归一化)
	NoiseFloor  float64    // 当前底噪估计
	SNR         float64    // signalPeak / noiseFloor
	Envelope    []float64  // 包络采样 (降采样后，用于波形显示)
	Calibrating bool       // 校准窗口内为 true，此时不产生 KeyEvent
}

// ToneDetector 音调检测后端的统一接口
// 两种实现：带通滤波 + 包络 (bandpass)，Goertzel 单频检测 (goertzel)
type ToneDetector interface {
	Process(block SampleBlock) SignalResult
	SetToneFrequency(hz float64)
	Reset()
	// DetectedFrequency 返回当前跟踪到的音调频率 (Hz)
	// 仅 Goertzel 自适应模式有意义，其余实现返回配置的固定频率
	DetectedFrequency() float64
}

// Backend 检测后端种类，会话启动时确定，运行中不可切换
type Backend string

const (
	BackendBandpass Backend = "bandpass"
	BackendGoertzel Backend = "goertzel"
)

// ParseBackend 解析配置字符串
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendBandpass, BackendGoertzel:
		return Backend(s), nil
	}
	return "", fmt.Errorf("unknown detector backend %q", s)
}

var (
	// ErrSessionActive 会话运行期间不允许的操作 (如切换后端)
	ErrSessionActive = errors.New("session is active; stop it first")
	// ErrSessionNotRunning 会话未运行时送入音频块
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrAlreadyRunning 重复 Start
	ErrAlreadyRunning = errors.New("session already running")
)
