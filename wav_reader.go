package cwrx

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WavReader WAV 文件读取器，仅支持 16-bit PCM
// 多声道文件只取第一声道
type WavReader struct {
	file       *os.File
	SampleRate int
	Channels   int
	DataSize   int
}

// NewWavReader 打开 WAV 文件并解析头部
func NewWavReader(filename string) (*WavReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &WavReader{file: f}
	if err := r.parseHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav %q: %w", filename, err)
	}
	return r, nil
}

// parseHeader 遍历 RIFF chunk，定位 fmt 和 data
// 解析完成后文件指针停在 data 数据起始处
func (r *WavReader) parseHeader() error {
	riff := make([]byte, 12)
	if _, err := io.ReadFull(r.file, riff); err != nil {
		return err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a wav file")
	}

	var bitsPerSample int
	var dataStart int64
	foundFmt, foundData := false, false

	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(r.file, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}

		chunkID := string(header[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(header[4:8]))
		// chunk 长度为奇数时有一个 pad 字节
		padding := chunkSize % 2

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return fmt.Errorf("fmt chunk too small")
			}
			fmtData := make([]byte, chunkSize)
			if _, err := io.ReadFull(r.file, fmtData); err != nil {
				return err
			}
			if padding > 0 {
				r.file.Seek(padding, io.SeekCurrent)
			}
			r.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			r.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			r.DataSize = int(chunkSize)
			pos, _ := r.file.Seek(0, io.SeekCurrent)
			dataStart = pos
			foundData = true
			if !foundFmt {
				// fmt 在 data 之后的罕见布局，继续找
				if _, err := r.file.Seek(chunkSize+padding, io.SeekCurrent); err != nil {
					return err
				}
			}
		default:
			if _, err := r.file.Seek(chunkSize+padding, io.SeekCurrent); err != nil {
				return err
			}
		}
		if foundFmt && foundData {
			break
		}
	}

	if !foundFmt || !foundData {
		return fmt.Errorf("missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return fmt.Errorf("only 16-bit pcm supported, got %d bits", bitsPerSample)
	}
	if r.Channels < 1 {
		return fmt.Errorf("invalid channel count %d", r.Channels)
	}

	_, err := r.file.Seek(dataStart, io.SeekStart)
	return err
}

// ReadSamples 读取最多 count 个采样点 (第一声道)，归一化到 -1.0 ~ 1.0
// 文件读完后返回 io.EOF
func (r *WavReader) ReadSamples(count int) ([]float64, error) {
	frameBytes := 2 * r.Channels
	buf := make([]byte, count*frameBytes)

	n, err := r.file.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}

	frames := n / frameBytes
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		v := int16(binary.LittleEndian.Uint16(buf[i*frameBytes : i*frameBytes+2]))
		out[i] = float64(v) / 32768.0
	}
	return out, nil
}

// Close 关闭文件
func (r *WavReader) Close() error {
	return r.file.Close()
}
