package cwrx

import (
	"bufio"
	"fmt"
	"os"
)

// SignalDebugger 定义信号调试器接口
// 会话只依赖这个接口，不依赖具体的文件操作
type SignalDebugger interface {
	Record(timestamp, envelope, noiseFloor float64, keyDown bool)
	Close()
}

// CsvFileDebugger 把每个包络采样连同阈值状态写到 CSV，
// 用于离线分析阈值判决 (画图对比包络和底噪曲线)
type CsvFileDebugger struct {
	file   *os.File
	writer *bufio.Writer
}

// NewCsvFileDebugger 创建 CSV 调试器
func NewCsvFileDebugger(filename string) (*CsvFileDebugger, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString("Timestamp,Envelope,NoiseFloor,KeyDown\n"); err != nil {
		f.Close()
		return nil, err
	}

	return &CsvFileDebugger{
		file:   f,
		writer: w,
	}, nil
}

// Record 记录单帧数据
func (d *CsvFileDebugger) Record(timestamp, envelope, noiseFloor float64, keyDown bool) {
	state := 0.0
	if keyDown {
		state = 1.0
	}
	fmt.Fprintf(d.writer, "%f,%f,%f,%f\n", timestamp, envelope, noiseFloor, state)
}

// Close 刷新缓冲区并关闭文件
func (d *CsvFileDebugger) Close() {
	if d.writer != nil {
		d.writer.Flush()
	}
	if d.file != nil {
		d.file.Close()
	}
}

// NoOpDebugger 空实现，不记录时使用
// 避免在核心代码里写大量的 if debugger != nil check
type NoOpDebugger struct{}

func (d *NoOpDebugger) Record(timestamp, envelope, noiseFloor float64, keyDown bool) {}
func (d *NoOpDebugger) Close()                                                      {}
