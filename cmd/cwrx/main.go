package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"cwrx"
	"cwrx/Classifier"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults used when empty)")
	inputFile := flag.String("file", "", "Input wav file for replay instead of live audio")
	recordFile := flag.String("record", "", "Record live audio to a wav file")
	listen := flag.String("listen", "", "Telemetry websocket listen address (overrides config)")
	device := flag.String("device", "", "Audio capture device name (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Telemetry.Listen = *listen
	}
	if *device != "" {
		cfg.Audio.Device = *device
	}

	session := cwrx.NewSession(cfg, logger)
	session.SetEntryHandler(func(e Classifier.TranscriptEntry) {
		fmt.Println(e.Text)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 遥测 websocket
	var ts *cwrx.TelemetryServer
	if cfg.Telemetry.Listen != "" {
		ts = cwrx.NewTelemetryServer(cfg.Telemetry.Listen, logger)
		session.SetSnapshotHandler(ts.PushSnapshot)
		go func() {
			if err := ts.Run(ctx); err != nil {
				logger.Error("telemetry server failed", "err", err)
			}
		}()
	}
	session.SetCallsignHandler(func(c Classifier.DetectedCallsign) {
		fmt.Printf("*** %s (%s)\n", c.Call, c.Context)
		if ts != nil {
			ts.PushCallsign(c)
		}
	})

	// 配置热加载
	if *configPath != "" {
		watcher, err := cwrx.NewConfigWatcher(*configPath, logger, session.ApplyConfig)
		if err != nil {
			logger.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Close()
		}
	}

	// 电台 CAT
	var rig *cwrx.CIVClient
	if cfg.Rig.Port != "" {
		rig = cwrx.NewCIVClient(cfg.Rig.Port, cfg.Rig.Baud)
		if err := rig.Open(); err != nil {
			logger.Warn("rig connection failed", "err", err)
			rig = nil
		} else {
			defer rig.Close()
			if freq, err := rig.ReadFrequency(); err == nil {
				logger.Info("rig connected", "frequency", freq)
			}
			if mode, err := rig.ReadMode(); err == nil && mode != "CW" && mode != "CW-R" {
				logger.Warn("rig not in CW mode", "mode", mode)
			}
			// 侧音频率作为检测目标的初始值
			if pitch, err := rig.ReadCWPitch(); err == nil {
				logger.Info("rig cw pitch", "hz", pitch)
				if err := session.SetToneFrequency(pitch); err != nil {
					logger.Warn("pitch seed rejected", "err", err)
				}
			}
		}
	}

	if err := session.Start(); err != nil {
		logger.Error("session start failed", "err", err)
		os.Exit(1)
	}
	defer session.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *inputFile != "" {
		// 回放模式：文件跑完就退出
		go func() {
			if err := replayFile(*inputFile, cfg, session, logger); err != nil {
				logger.Error("replay failed", "err", err)
			}
			sigChan <- os.Interrupt
		}()
	} else {
		capture, err := startCapture(cfg, *recordFile, session, logger)
		if err != nil {
			logger.Error("audio start failed", "err", err)
			os.Exit(1)
		}
		defer capture.Stop()
	}

	// 控制台输入
	go func() {
		fmt.Println("Ready. Commands: tx <text> | wpm <n|auto> | freq <hz> | clear | copy | exit")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
				sigChan <- os.Interrupt
				return
			}
			handleInput(line, session, rig, logger)
			fmt.Print("> ")
		}
	}()

	<-sigChan
	fmt.Println("\nShutting down...")
}

func loadConfig(path string) (*cwrx.Config, error) {
	if path == "" {
		return cwrx.DefaultConfig(), nil
	}
	return cwrx.LoadConfig(path)
}

// startCapture 启动声卡采集，可选同时录制到 wav
func startCapture(cfg *cwrx.Config, recordFile string, session *cwrx.Session, logger *slog.Logger) (*cwrx.AudioCapture, error) {
	var recorder *cwrx.WavWriter
	if recordFile != "" {
		w, err := cwrx.NewWavWriter(recordFile, cfg.Audio.SampleRate)
		if err != nil {
			return nil, err
		}
		recorder = w
		logger.Info("recording enabled", "file", recordFile)
	}

	onBlock := func(block cwrx.SampleBlock) {
		if recorder != nil {
			if err := recorder.WriteSamples(block.Samples); err != nil {
				logger.Warn("recording write failed", "err", err)
			}
		}
		if err := session.ProcessBlock(block); err != nil {
			logger.Warn("block dropped", "err", err)
		}
	}
	onError := func(err error) {
		session.CaptureError(err)
	}

	capture, err := cwrx.NewAudioCapture(cfg.Audio.SampleRate, cfg.Audio.Device, logger, onBlock, onError)
	if err != nil {
		return nil, err
	}
	if err := capture.Start(); err != nil {
		capture.Stop()
		return nil, err
	}
	return capture, nil
}

// replayFile 从 wav 文件按块回放，文件结束后补一秒静音把尾巴刷出来
func replayFile(path string, cfg *cwrx.Config, session *cwrx.Session, logger *slog.Logger) error {
	reader, err := cwrx.NewWavReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	rate := float64(reader.SampleRate)
	logger.Info("replay started", "file", path, "sample_rate", reader.SampleRate)

	var total int64
	feed := func(samples []float64) error {
		block := cwrx.SampleBlock{
			Samples:    samples,
			SampleRate: rate,
			Start:      float64(total) / rate,
		}
		total += int64(len(samples))
		return session.ProcessBlock(block)
	}

	for {
		samples, err := reader.ReadSamples(cfg.Audio.BlockSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := feed(samples); err != nil {
			return err
		}
	}

	silence := make([]float64, cfg.Audio.BlockSize)
	for fed := 0; fed < reader.SampleRate; fed += len(silence) {
		if err := feed(silence); err != nil {
			return err
		}
	}

	fmt.Println(session.CopyTranscript())
	return nil
}

// handleInput 处理控制台命令
func handleInput(line string, session *cwrx.Session, rig *cwrx.CIVClient, logger *slog.Logger) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "tx":
		if rig == nil {
			fmt.Println("no rig connected")
			return
		}
		if err := rig.SendText(strings.ToUpper(rest)); err != nil {
			logger.Warn("cw send failed", "err", err)
		}
	case "wpm":
		if strings.EqualFold(rest, "auto") {
			session.ClearWPM()
			return
		}
		wpm, err := strconv.Atoi(rest)
		if err != nil {
			fmt.Println("usage: wpm <n|auto>")
			return
		}
		if err := session.SetWPM(wpm); err != nil {
			fmt.Println(err)
		}
	case "freq":
		hz, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			fmt.Println("usage: freq <hz>")
			return
		}
		if err := session.SetToneFrequency(hz); err != nil {
			fmt.Println(err)
		}
	case "clear":
		session.Clear()
	case "copy":
		fmt.Println(session.CopyTranscript())
	default:
		fmt.Printf("unknown command: %s\n", cmd)
	}
}
