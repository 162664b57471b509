package cwrx

import (
	"encoding/binary"
	"io"
	"os"
)

// WavWriter 单声道 16-bit PCM WAV 写入器，用于录制输入音频
type WavWriter struct {
	file       *os.File
	sampleRate int
	dataSize   int
}

// NewWavWriter 创建写入器，头部先占位，Close 时回写实际大小
func NewWavWriter(filename string, sampleRate int) (*WavWriter, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	placeholder := make([]byte, 44)
	if _, err := f.Write(placeholder); err != nil {
		f.Close()
		return nil, err
	}

	return &WavWriter{file: f, sampleRate: sampleRate}, nil
}

// WriteSamples 写入一批采样，超出 -1.0 ~ 1.0 的值做限幅
func (w *WavWriter) WriteSamples(samples []float64) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*32767)))
	}

	n, err := w.file.Write(buf)
	if err != nil {
		return err
	}
	w.dataSize += n
	return nil
}

// Close 回写 WAV 头并关闭文件
func (w *WavWriter) Close() error {
	header := make([]byte, 44)

	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+w.dataSize))
	copy(header[8:], "WAVE")

	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16) // PCM fmt chunk 大小
	binary.LittleEndian.PutUint16(header[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(header[22:], 1)  // Mono
	binary.LittleEndian.PutUint32(header[24:], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(w.sampleRate*2)) // ByteRate
	binary.LittleEndian.PutUint16(header[32:], 2)                      // BlockAlign
	binary.LittleEndian.PutUint16(header[34:], 16)                     // BitsPerSample

	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(w.dataSize))

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(header); err != nil {
		return err
	}
	return w.file.Close()
}
