package cwrx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cwrx/Classifier"
)

// SessionState 会话生命周期状态
type SessionState int

const (
	StateIdle SessionState = iota
	StateCalibrating
	StateListening
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	}
	return "unknown"
}

// 前置放大固定增益
const preAmpGain = 10.0

// 尾部单词成文阈值 (单位: unit)，比字符 flush 的 5u 再宽一点
const trailingWordUnits = 7.0

// Session 会话协调器：把检测后端、时序解码器、语义标注器串成管线，
// 持有生命周期与遥测。
//
// 音频块处理与超时 tick 都在同一把锁下执行，
// 超时 flush 永远不会与同时到达的键控事件竞争。
// 消费者只拿到快照副本，拿不到内部可变状态的引用。
type Session struct {
	mu  sync.Mutex
	cfg *Config
	log *slog.Logger

	state   SessionState
	lastErr string

	detector   ToneDetector
	decoder    *TimingDecoder
	classifier *Classifier.Classifier
	ring       *waveformRing
	debug      SignalDebugger

	// 成文状态
	line       string
	lineStart  float64
	transcript []Classifier.TranscriptEntry

	// 时基：采样流时间，由处理过的块推进 (静音块同样推进)
	streamTime float64
	lastKeyTS  float64

	// 遥测缓存
	peak       float64
	noiseFloor float64
	snr        float64
	preAmp     bool

	// tick goroutine
	cancelTick context.CancelFunc
	tickDone   chan struct{}

	// 回调 (均在锁外触发)
	onCallsign func(Classifier.DetectedCallsign)
	onEntry    func(Classifier.TranscriptEntry)
	onSnapshot func(Snapshot)
}

// NewSession 创建会话，cfg 不可为 nil；logger 为 nil 时用 slog.Default
func NewSession(cfg *Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:        cfg,
		log:        logger,
		state:      StateIdle,
		decoder:    NewTimingDecoder(),
		classifier: Classifier.New(),
		ring:       newWaveformRing(cfg.Telemetry.WaveformSize),
		debug:      &NoOpDebugger{},
		preAmp:     cfg.Detector.PreAmp,
	}
	if cfg.Decoder.WPMOverride > 0 {
		s.decoder.WPM().SetOverride(cfg.Decoder.WPMOverride)
	}
	return s
}

// SetCallsignHandler 注册新呼号出现时的推送回调
func (s *Session) SetCallsignHandler(fn func(Classifier.DetectedCallsign)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCallsign = fn
}

// SetEntryHandler 注册成文记录回调
func (s *Session) SetEntryHandler(fn func(Classifier.TranscriptEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEntry = fn
}

// SetSnapshotHandler 注册每块处理后的遥测推送回调
func (s *Session) SetSnapshotHandler(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSnapshot = fn
}

// newDetector 按配置构建检测后端
func newDetector(cfg *Config) (ToneDetector, error) {
	backend, err := ParseBackend(cfg.Detector.Backend)
	if err != nil {
		return nil, err
	}
	rate := float64(cfg.Audio.SampleRate)
	switch backend {
	case BackendBandpass:
		return NewBandpassDetector(rate, cfg.Detector.ToneFreq, cfg.Detector.Q,
			cfg.Detector.OnRatio, cfg.Detector.OffRatio, cfg.Detector.CalibrationSamples)
	case BackendGoertzel:
		return NewGoertzelDetector(rate, cfg.Detector.ToneFreq, cfg.Detector.GoertzelBlock,
			cfg.Detector.AdaptiveFreq, cfg.Detector.MinFreq, cfg.Detector.MaxFreq,
			cfg.Detector.OnRatio, cfg.Detector.OffRatio, cfg.Detector.CalibrationSamples)
	}
	return nil, fmt.Errorf("backend %q not constructible", backend)
}

// Start 启动会话：构建检测后端，进入 Calibrating，起动超时 tick。
// 从 Error 状态恢复也走这里 (显式重启是唯一的恢复方式)。
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCalibrating || s.state == StateListening {
		return ErrAlreadyRunning
	}

	det, err := newDetector(s.cfg)
	if err != nil {
		return err
	}

	s.detector = det
	s.decoder.Reset()
	s.classifier.Reset()
	s.ring.Reset()
	s.line = ""
	s.transcript = nil
	s.streamTime = 0
	s.lastKeyTS = 0
	s.lastErr = ""
	s.peak = 0
	s.noiseFloor = 0
	s.snr = 0
	s.state = StateCalibrating

	if path := s.cfg.Telemetry.DebugCSV; path != "" {
		dbg, err := NewCsvFileDebugger(path)
		if err != nil {
			s.log.Warn("debug csv disabled", "path", path, "err", err)
		} else {
			s.debug = dbg
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelTick = cancel
	s.tickDone = make(chan struct{})
	go s.runTicker(ctx, time.Duration(s.cfg.Decoder.TickMs)*time.Millisecond)

	s.log.Info("session started",
		"backend", s.cfg.Detector.Backend,
		"tone_freq", s.cfg.Detector.ToneFreq,
		"adaptive", s.cfg.Detector.AdaptiveFreq)
	return nil
}

// runTicker 周期性触发超时 flush 检查
func (s *Session) runTicker(ctx context.Context, interval time.Duration) {
	defer close(s.tickDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.timeoutTick()
		}
	}
}

// timeoutTick 与块处理共用同一把锁，flush 不可能与在途键控事件竞争
func (s *Session) timeoutTick() {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}

	var fired []Classifier.TranscriptEntry
	var calls []Classifier.DetectedCallsign

	outs := s.decoder.Tick(s.streamTime)
	s.applyOutputs(outs, s.streamTime, &fired, &calls)

	// 尾部单词：图案已清、静音足够长时把半行成文
	if s.decoder.Idle() && s.line != "" &&
		s.streamTime-s.lastKeyTS > s.decoder.WPM().Unit()*trailingWordUnits {
		s.finalizeLine(&fired, &calls)
	}
	s.mu.Unlock()

	s.notify(fired, calls)
}

// ProcessBlock 处理一个音频块
// 块按到达顺序完整处理，处理完才取下一块，这就是背压机制本身
func (s *Session) ProcessBlock(block SampleBlock) error {
	s.mu.Lock()
	if s.state != StateCalibrating && s.state != StateListening {
		s.mu.Unlock()
		return ErrSessionNotRunning
	}

	if s.preAmp {
		amplified := make([]float64, len(block.Samples))
		for i, v := range block.Samples {
			amplified[i] = v * preAmpGain
		}
		block = SampleBlock{Samples: amplified, SampleRate: block.SampleRate, Start: block.Start}
	}

	res := s.detector.Process(block)

	if s.state == StateCalibrating && !res.Calibrating {
		s.state = StateListening
		s.log.Info("calibration complete",
			"noise_floor", res.NoiseFloor,
			"frequency", s.detector.DetectedFrequency())
	}

	s.ring.Push(res.Envelope)
	s.peak = res.Peak
	s.noiseFloor = res.NoiseFloor
	s.snr = res.SNR
	for _, env := range res.Envelope {
		s.debug.Record(block.Start, env, res.NoiseFloor, res.KeyDown)
	}

	var fired []Classifier.TranscriptEntry
	var calls []Classifier.DetectedCallsign
	for _, ev := range res.Events {
		s.lastKeyTS = ev.Timestamp
		outs := s.decoder.Feed(ev)
		s.applyOutputs(outs, ev.Timestamp, &fired, &calls)
	}
	s.streamTime = block.End()

	var snap Snapshot
	hook := s.onSnapshot
	if hook != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	s.notify(fired, calls)
	if hook != nil {
		hook(snap)
	}
	return nil
}

// applyOutputs 把解码输出合并进行缓冲区 (持锁调用)
func (s *Session) applyOutputs(outs []DecodedOutput, ts float64, fired *[]Classifier.TranscriptEntry, calls *[]Classifier.DetectedCallsign) {
	for _, out := range outs {
		switch out.Kind {
		case KindCharacter:
			if s.line == "" {
				s.lineStart = ts
			}
			s.line += out.Text
		case KindWordSpace:
			s.finalizeLine(fired, calls)
		case KindElement:
			// 诊断输出，成文不需要
		}
	}
}

// finalizeLine 把当前行标注成文 (持锁调用)
func (s *Session) finalizeLine(fired *[]Classifier.TranscriptEntry, calls *[]Classifier.DetectedCallsign) {
	if s.line == "" {
		return
	}
	entry, fresh := s.classifier.Classify(s.lineStart, s.line)
	s.transcript = append(s.transcript, entry)
	s.line = ""
	*fired = append(*fired, entry)
	*calls = append(*calls, fresh...)
}

// notify 锁外触发回调
func (s *Session) notify(entries []Classifier.TranscriptEntry, calls []Classifier.DetectedCallsign) {
	if len(entries) > 0 && s.onEntry != nil {
		for _, e := range entries {
			s.onEntry(e)
		}
	}
	if len(calls) > 0 {
		for _, c := range calls {
			s.log.Info("callsign detected", "call", c.Call, "context", string(c.Context))
			if s.onCallsign != nil {
				s.onCallsign(c)
			}
		}
	}
}

// CaptureError 外部采集器报告失败：进入终态 Error，等待显式 Start 恢复
func (s *Session) CaptureError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	s.state = StateError
	s.lastErr = err.Error()
	s.log.Error("capture failed", "err", err)
}

// Stop 停止会话：取消 tick、丢弃全部在途状态、清空成文，回到 Idle
// 未完成的半个字符不会存活到下一次 Start
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancelTick
	done := s.tickDone
	s.cancelTick = nil
	s.tickDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detector != nil {
		s.detector.Reset()
		s.detector = nil
	}
	s.decoder.Reset()
	s.classifier.Reset()
	s.ring.Reset()
	s.line = ""
	s.transcript = nil
	s.streamTime = 0
	s.lastKeyTS = 0
	s.peak = 0
	s.noiseFloor = 0
	s.snr = 0
	s.state = StateIdle
	s.debug.Close()
	s.debug = &NoOpDebugger{}
	s.log.Info("session stopped")
}

// Clear 清空成文与进行中的行，不停止解码
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
	s.line = ""
}

// CopyTranscript 把当前成文序列化为纯文本
func (s *Session) CopyTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, 0, len(s.transcript))
	for _, e := range s.transcript {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, " ")
}

// SetWPM 设置手动码速 override，立即生效于之后的间隔判决
func (s *Session) SetWPM(wpm int) error {
	if wpm < wpmMin || wpm > wpmMax {
		return fmt.Errorf("wpm %d out of range [%d,%d]", wpm, wpmMin, wpmMax)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoder.WPM().SetOverride(wpm)
	return nil
}

// ClearWPM 清除 override，恢复自适应估计
func (s *Session) ClearWPM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoder.WPM().ClearOverride()
}

// SetToneFrequency 调整目标音调，运行中允许
func (s *Session) SetToneFrequency(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("tone frequency must be positive, got %g", hz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Detector.ToneFreq = hz
	if s.detector != nil {
		s.detector.SetToneFrequency(hz)
	}
	return nil
}

// SetPreAmp 切换前置放大
func (s *Session) SetPreAmp(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preAmp = enabled
}

// SelectBackend 切换检测后端
// 运行期间拒绝：滤波器/阈值状态在两种算法间不可迁移，必须先 Stop
func (s *Session) SelectBackend(b Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCalibrating || s.state == StateListening {
		return ErrSessionActive
	}
	s.cfg.Detector.Backend = string(b)
	return nil
}

// ApplyConfig 应用重新加载的配置
// 运行中只接管可热调的字段，后端切换等冷配置留到下次 Start
func (s *Session) ApplyConfig(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := s.state == StateCalibrating || s.state == StateListening
	if !running {
		s.cfg = cfg
		s.preAmp = cfg.Detector.PreAmp
	} else {
		s.preAmp = cfg.Detector.PreAmp
		if cfg.Detector.ToneFreq != s.cfg.Detector.ToneFreq && s.detector != nil {
			s.detector.SetToneFrequency(cfg.Detector.ToneFreq)
		}
		s.cfg.Detector.ToneFreq = cfg.Detector.ToneFreq
		s.cfg.Detector.PreAmp = cfg.Detector.PreAmp
	}
	if cfg.Decoder.WPMOverride > 0 {
		s.decoder.WPM().SetOverride(cfg.Decoder.WPMOverride)
	} else {
		s.decoder.WPM().ClearOverride()
	}
	s.log.Info("config applied", "running", running)
}

// State 当前生命周期状态
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot 构建只读遥测快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       s.state.String(),
		Error:       s.lastErr,
		Waveform:    s.ring.Snapshot(),
		Peak:        s.peak,
		NoiseFloor:  s.noiseFloor,
		Quality:     QualityFromSNR(s.snr),
		WPM:         s.decoder.WPM().WPM(),
		WPMOverride: s.decoder.WPM().Override(),
		Line:        s.line,
		Callsigns:   s.classifier.Callsigns(),
	}
	if s.cfg.Detector.AdaptiveFreq && s.detector != nil {
		snap.Frequency = s.detector.DetectedFrequency()
	}
	snap.Transcript = make([]Classifier.TranscriptEntry, len(s.transcript))
	copy(snap.Transcript, s.transcript)
	return snap
}
