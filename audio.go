package cwrx

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// BlockCallback 音频块回调，在 malgo 的采集线程上执行
type BlockCallback func(block SampleBlock)

// AudioCapture 管理声卡音频捕获
// 时间戳不用墙钟：按累计采样数折算，和采样流严格对齐
type AudioCapture struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	log        *slog.Logger

	total    int64 // 已送出的采样点数
	stopping atomic.Bool

	onBlock BlockCallback
	onError func(error)
}

// NewAudioCapture 初始化采集设备
// deviceName 非空时按名称包含匹配选择设备，否则用系统默认
func NewAudioCapture(sampleRate int, deviceName string, logger *slog.Logger, onBlock BlockCallback, onError func(error)) (*AudioCapture, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	ac := &AudioCapture{
		ctx:        ctx,
		sampleRate: sampleRate,
		log:        logger,
		onBlock:    onBlock,
		onError:    onError,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err == nil {
			for _, info := range infos {
				if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(deviceName)) {
					deviceConfig.Capture.DeviceID = info.ID.Pointer()
					logger.Info("audio device selected", "name", info.Name())
					break
				}
			}
		}
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if ac.onBlock == nil || len(pInputSamples) == 0 {
			return
		}
		f32 := unsafe.Slice((*float32)(unsafe.Pointer(&pInputSamples[0])), int(framecount))
		samples := make([]float64, len(f32))
		for i, v := range f32 {
			samples[i] = float64(v)
		}
		start := float64(ac.total) / float64(ac.sampleRate)
		ac.total += int64(len(samples))
		ac.onBlock(SampleBlock{Samples: samples, SampleRate: float64(ac.sampleRate), Start: start})
	}

	// 设备被系统拔走/独占时 malgo 会触发 Stop 回调
	onDeviceStop := func() {
		if ac.stopping.Load() {
			return
		}
		if ac.onError != nil {
			ac.onError(fmt.Errorf("audio: device stopped unexpectedly"))
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
		Stop: onDeviceStop,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio: init device: %w", err)
	}
	ac.device = device

	logger.Info("audio device initialized", "sample_rate", device.SampleRate())
	return ac, nil
}

// Start 启动采集
func (ac *AudioCapture) Start() error {
	if ac.device == nil {
		return fmt.Errorf("audio: device not initialized")
	}
	return ac.device.Start()
}

// Stop 停止采集并释放资源
func (ac *AudioCapture) Stop() {
	ac.stopping.Store(true)
	if ac.device != nil {
		ac.device.Uninit()
		ac.device = nil
	}
	if ac.ctx != nil {
		_ = ac.ctx.Uninit()
		ac.ctx.Free()
		ac.ctx = nil
	}
}
