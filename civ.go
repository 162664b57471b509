package cwrx

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// CI-V 帧常量
const (
	civPreamble = 0xFE
	civEnd      = 0xFD
	civAddrRig  = 0x94 // ICOM 7300 默认地址
	civAddrPC   = 0xE0 // 控制器 (PC) 默认地址

	civCmdReadFreq = 0x03
	civCmdReadMode = 0x04
	civCmdSettings = 0x14
	civCmdSendCW   = 0x17

	civSubCWPitch = 0x09

	// ICOM 0x17 指令单帧文本上限
	civMaxCWText = 30
)

// SerialPort 串口操作接口，测试时用 mock 替换
type SerialPort interface {
	io.ReadWriteCloser
}

// CIVClient 与 ICOM 电台的 CI-V 通信
// 用于启动时读取电台频率/模式，以及通过 0x17 指令发送 CW 文本
type CIVClient struct {
	Port     string
	BaudRate int
	conn     SerialPort
}

// NewCIVClient 创建 CI-V 客户端
func NewCIVClient(port string, baudRate int) *CIVClient {
	return &CIVClient{Port: port, BaudRate: baudRate}
}

// Open 打开串口连接
func (c *CIVClient) Open() error {
	cfg := &serial.Config{
		Name:        c.Port,
		Baud:        c.BaudRate,
		ReadTimeout: time.Millisecond * 500,
	}
	s, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("civ: open %s: %w", c.Port, err)
	}
	c.conn = s
	return nil
}

// Close 关闭串口连接
func (c *CIVClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SendCommand 发送一条 CI-V 指令帧: FE FE [To] [From] [Cmd] [Data...] FD
func (c *CIVClient) SendCommand(cmd byte, data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("civ: connection not open")
	}
	frame := []byte{civPreamble, civPreamble, civAddrRig, civAddrPC, cmd}
	frame = append(frame, data...)
	frame = append(frame, civEnd)

	_, err := c.conn.Write(frame)
	return err
}

// SendText 发送 CW 文本 (指令 0x17)，数据部分是 ASCII 字符
// 电台发送 CW 指令后通常没有响应帧，这里只负责写出
func (c *CIVClient) SendText(text string) error {
	if len(text) > civMaxCWText {
		return fmt.Errorf("civ: text too long (max %d chars)", civMaxCWText)
	}
	return c.SendCommand(civCmdSendCW, []byte(text))
}

// ReadFrequency 读取当前工作频率 (Hz)
// 响应数据是 5 字节 BCD，低位在前: 7.050.000 MHz -> 00 00 05 07 00
func (c *CIVClient) ReadFrequency() (int, error) {
	if err := c.SendCommand(civCmdReadFreq, nil); err != nil {
		return 0, err
	}

	data, err := c.readResponse(civCmdReadFreq)
	if err != nil {
		return 0, err
	}
	if len(data) < 5 {
		return 0, fmt.Errorf("civ: frequency data too short (%d bytes)", len(data))
	}

	freq, multiplier := 0, 1
	for i := 0; i < 5; i++ {
		freq += bcdToDecimal(data[i]) * multiplier
		multiplier *= 100
	}
	return freq, nil
}

// ReadCWPitch 读取电台的 CW 侧音频率 (Hz)
// 响应是 0~255 的 2 字节 BCD 刻度值，线性映射到 300~900Hz
func (c *CIVClient) ReadCWPitch() (float64, error) {
	if err := c.SendCommand(civCmdSettings, []byte{civSubCWPitch}); err != nil {
		return 0, err
	}

	data, err := c.readResponse(civCmdSettings)
	if err != nil {
		return 0, err
	}
	// 数据部分: [subcmd] [高位 BCD] [低位 BCD]
	if len(data) < 3 || data[0] != civSubCWPitch {
		return 0, fmt.Errorf("civ: unexpected pitch data %v", data)
	}

	scale := bcdToDecimal(data[1])*100 + bcdToDecimal(data[2])
	if scale > 255 {
		return 0, fmt.Errorf("civ: pitch scale out of range: %d", scale)
	}
	return 300.0 + 600.0*float64(scale)/255.0, nil
}

// civModes CI-V 模式字节到名称的映射
var civModes = map[byte]string{
	0x00: "LSB", 0x01: "USB", 0x02: "AM", 0x03: "CW",
	0x04: "RTTY", 0x05: "FM", 0x07: "CW-R", 0x08: "RTTY-R",
	0x17: "DV",
}

// ReadMode 读取当前工作模式
func (c *CIVClient) ReadMode() (string, error) {
	if err := c.SendCommand(civCmdReadMode, nil); err != nil {
		return "", err
	}

	data, err := c.readResponse(civCmdReadMode)
	if err != nil {
		return "", err
	}
	if len(data) < 1 {
		return "", fmt.Errorf("civ: empty mode data")
	}

	if name, ok := civModes[data[0]]; ok {
		return name, nil
	}
	return fmt.Sprintf("Unknown(0x%02X)", data[0]), nil
}

// readResponse 读取并定位目标响应帧，返回数据部分
// 串口可能回显我们自己发出的帧，按目标帧头 FE FE E0 94 [Cmd] 过滤
func (c *CIVClient) readResponse(expectedCmd byte) ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("civ: connection not open")
	}

	buf := make([]byte, 1024)
	n, err := c.conn.Read(buf)
	if err == io.EOF {
		return nil, fmt.Errorf("civ: connection closed")
	}
	if n == 0 {
		return nil, fmt.Errorf("civ: timeout or no data")
	}
	raw := buf[:n]

	header := []byte{civPreamble, civPreamble, civAddrPC, civAddrRig, expectedCmd}
	idx := bytes.Index(raw, header)
	if idx == -1 {
		return nil, fmt.Errorf("civ: response header not found in %s", hex.EncodeToString(raw))
	}

	frame := raw[idx:]
	end := bytes.IndexByte(frame, civEnd)
	if end == -1 {
		return nil, fmt.Errorf("civ: frame end not found")
	}
	if end <= len(header) {
		return []byte{}, nil
	}
	return frame[len(header):end], nil
}

func bcdToDecimal(b byte) int {
	return int((b>>4)*10 + (b & 0x0F))
}
