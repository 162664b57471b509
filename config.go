package cwrx

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 集中管理解码管线的所有可调参数
// 对核心来说是只读的：会话只读取这些值，从不回写持久化
type Config struct {
	// --- 音频输入 ---
	Audio struct {
		SampleRate int    `yaml:"sample_rate"` // 采样率 (Hz)，默认 48000
		Device     string `yaml:"device"`      // 设备名包含匹配，空 = 系统默认
		BlockSize  int    `yaml:"block_size"`  // 回放/分块大小 (采样点)
	} `yaml:"audio"`

	// --- 音调检测 ---
	Detector struct {
		Backend            string  `yaml:"backend"`             // bandpass | goertzel，会话启动时固定
		ToneFreq           float64 `yaml:"tone_freq"`           // 目标音调 (Hz)，默认 600
		Q                  float64 `yaml:"q"`                   // 带通品质因数，2.0 左右容忍漂移
		AdaptiveFreq       bool    `yaml:"adaptive_freq"`       // goertzel 后端的自动频率跟踪
		MinFreq            float64 `yaml:"min_freq"`            // 自适应搜索下限 (Hz)
		MaxFreq            float64 `yaml:"max_freq"`            // 自适应搜索上限 (Hz)
		GoertzelBlock      int     `yaml:"goertzel_block"`      // Goertzel 块大小 (采样点)，约 3ms
		CalibrationSamples int     `yaml:"calibration_samples"` // 校准窗口 (包络采样数)，期间不产生 KeyEvent
		OnRatio            float64 `yaml:"on_ratio"`            // 键按下判决: sample/noiseFloor > OnRatio
		OffRatio           float64 `yaml:"off_ratio"`           // 键抬起判决: sample/noiseFloor < OffRatio，必须小于 OnRatio
		PreAmp             bool    `yaml:"pre_amp"`             // 前置放大 (固定 10x)
	} `yaml:"detector"`

	// --- 解码 ---
	Decoder struct {
		WPMOverride int `yaml:"wpm_override"` // 手动码速 (5~60)，0 = 自适应
		TickMs      int `yaml:"tick_ms"`      // 超时 flush 的检查周期 (毫秒)
	} `yaml:"decoder"`

	// --- 电台 CAT (可选) ---
	Rig struct {
		Port string `yaml:"port"` // 串口设备，空 = 不连电台
		Baud int    `yaml:"baud"`
	} `yaml:"rig"`

	// --- 遥测 ---
	Telemetry struct {
		Listen       string `yaml:"listen"`        // websocket 监听地址，空 = 不启动
		WaveformSize int    `yaml:"waveform_size"` // 波形环形缓冲区大小
		DebugCSV     string `yaml:"debug_csv"`     // 信号调试 CSV 输出路径，空 = 关闭
	} `yaml:"telemetry"`
}

// DefaultConfig 返回当前最佳实践的默认配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Audio.SampleRate = 48000
	cfg.Audio.Device = ""
	cfg.Audio.BlockSize = 1024

	cfg.Detector.Backend = string(BackendBandpass)
	cfg.Detector.ToneFreq = 600.0
	cfg.Detector.Q = 2.0
	cfg.Detector.AdaptiveFreq = false
	cfg.Detector.MinFreq = 400.0
	cfg.Detector.MaxFreq = 1000.0
	cfg.Detector.GoertzelBlock = 128
	cfg.Detector.CalibrationSamples = 100
	cfg.Detector.OnRatio = 2.0
	cfg.Detector.OffRatio = 1.3
	cfg.Detector.PreAmp = false

	cfg.Decoder.WPMOverride = 0
	cfg.Decoder.TickMs = 100

	cfg.Rig.Port = ""
	cfg.Rig.Baud = 115200

	cfg.Telemetry.Listen = ""
	cfg.Telemetry.WaveformSize = 512
	cfg.Telemetry.DebugCSV = ""

	return cfg
}

// LoadConfig 读取并校验 YAML 配置文件
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromReader 从 reader 解析配置，未出现的字段保留默认值
// 测试里可以直接用字符串字面量构造配置
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置的一致性，返回汇总错误
func (c *Config) Validate() error {
	var errs []error

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", c.Audio.BlockSize))
	}

	if _, err := ParseBackend(c.Detector.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.Detector.ToneFreq <= 0 {
		errs = append(errs, fmt.Errorf("detector.tone_freq must be positive, got %g", c.Detector.ToneFreq))
	}
	if c.Detector.Q <= 0 {
		errs = append(errs, fmt.Errorf("detector.q must be positive, got %g", c.Detector.Q))
	}
	// 迟滞带硬性契约：OnRatio 必须严格大于 OffRatio
	if c.Detector.OnRatio <= c.Detector.OffRatio {
		errs = append(errs, fmt.Errorf("detector.on_ratio (%g) must be greater than off_ratio (%g)",
			c.Detector.OnRatio, c.Detector.OffRatio))
	}
	if c.Detector.CalibrationSamples <= 0 {
		errs = append(errs, fmt.Errorf("detector.calibration_samples must be positive, got %d", c.Detector.CalibrationSamples))
	}
	if c.Detector.GoertzelBlock < 8 {
		errs = append(errs, fmt.Errorf("detector.goertzel_block too small: %d", c.Detector.GoertzelBlock))
	}
	if c.Detector.AdaptiveFreq && c.Detector.MinFreq >= c.Detector.MaxFreq {
		errs = append(errs, fmt.Errorf("detector.min_freq (%g) must be below max_freq (%g)",
			c.Detector.MinFreq, c.Detector.MaxFreq))
	}

	if o := c.Decoder.WPMOverride; o != 0 && (o < wpmMin || o > wpmMax) {
		errs = append(errs, fmt.Errorf("decoder.wpm_override must be 0 or within [%d,%d], got %d", wpmMin, wpmMax, o))
	}
	if c.Decoder.TickMs <= 0 {
		errs = append(errs, fmt.Errorf("decoder.tick_ms must be positive, got %d", c.Decoder.TickMs))
	}

	if c.Telemetry.WaveformSize <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.waveform_size must be positive, got %d", c.Telemetry.WaveformSize))
	}

	return errors.Join(errs...)
}
