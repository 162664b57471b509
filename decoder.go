package cwrx

import (
	"math"

	"cwrx/Filters"
)

// MorseCodeMap 定义摩尔斯电码映射
var MorseCodeMap = map[string]string{
	// 字母
	".-": "A", "-...": "B", "-.-.": "C", "-..": "D", ".": "E",
	"..-.": "F", "--.": "G", "....": "H", "..": "I", ".---": "J",
	"-.-": "K", ".-..": "L", "--": "M", "-.": "N", "---": "O",
	".--.": "P", "--.-": "Q", ".-.": "R", "...": "S", "-": "T",
	"..-": "U", "...-": "V", ".--": "W", "-..-": "X", "-.--": "Y",
	"--..": "Z",
	// 数字
	".----": "1", "..---": "2", "...--": "3", "....-": "4", ".....": "5",
	"-....": "6", "--...": "7", "---..": "8", "----.": "9", "-----": "0",
	// 标点符号
	".-.-.-":  ".",  // Period
	"--..--":  ",",  // Comma
	"..--..":  "?",  // Question Mark
	"-..-.":   "/",  // Slash
	"-...-":   "=",  // BT (Break / Pause)
	".-.-.":   "+",  // AR (End of Message)
	".--.-.":  "@",  // AC (At Sign)
	"-.--.":   "(",  // KN (Go Ahead, specific station)
	"-.--.-":  ")",  // Close Parenthesis
	"---...":  ":",  // Colon
	"-.-.-.":  ";",  // Semicolon / KA (Start of Message)
	".----.":  "'",  // Apostrophe
	".-..-.":  "\"", // Quote
	"-....-":  "-",  // Hyphen
	"..--.-":  "_",  // Underscore
	"...-..-": "$",  // Dollar
	"-.-.--":  "!",  // Exclamation (Non-standard)
	// 特殊符号 (Prosigns)
	"...-.-":  "<SK>", // End of Contact
	".-...":   "<AS>", // Wait
	"...-.":   "<VE>", // Verified
	"-...-.-": "<BK>", // Break
}

// ElementKind 按时长分类后的信号片段类型
type ElementKind int

const (
	ElemDit ElementKind = iota
	ElemDah
	GapElement
	GapCharacter
	GapWord
)

// MorseElement 一个分类后的片段及其实测时长 (秒)
type MorseElement struct {
	Kind     ElementKind
	Duration float64
}

// DecodedKind 解码输出类型
type DecodedKind int

const (
	// KindCharacter 完整字符 (或无法匹配时的 "[pattern]" 字面量)
	KindCharacter DecodedKind = iota
	// KindWordSpace 单词间隔
	KindWordSpace
	// KindElement 诊断用的原始片段
	KindElement
)

// DecodedOutput 解码器的一条输出
type DecodedOutput struct {
	Kind    DecodedKind
	Text    string
	Element MorseElement
}

// PARIS 标准: unit = 1.2 / WPM (秒)
const (
	wpmMin = 5
	wpmMax = 60
	// 时长判决边界 (单位: unit)
	ditDahBoundary  = 2.0 // 小于 2u 为点，否则为划
	charGapBoundary = 2.0 // 大于等于 2u 的静音结束当前字符
	wordGapBoundary = 5.0 // 大于等于 5u 的静音输出单词间隔；超时 flush 同样用 5u
	// 隐含 unit 的滑动窗口与跨窗口平滑
	unitWindowSize  = 8
	unitSmoothAlpha = 0.3
	// 默认 20 WPM，收到足够片段前的初始估计
	defaultUnit = 1.2 / 20.0
)

// WPMTracker 自适应码速估计
// 每个分类后的点/划贡献一个隐含 unit (duration/1 或 duration/3)，
// 取滑动窗口中值 (抗个别误判)，再用 EMA 跨窗口平滑，WPM 钳制在 [5,60]。
// 手动 override 只替换间隔判决用的 unit，不影响自适应估计本身。
type WPMTracker struct {
	units    *Filters.WindowBuffer
	smoothed float64
	override int
}

// NewWPMTracker 创建估计器
func NewWPMTracker() *WPMTracker {
	return &WPMTracker{
		units: Filters.NewWindowBuffer(unitWindowSize),
	}
}

// AddMark 输入一个分类后的点/划时长
func (w *WPMTracker) AddMark(duration float64, isDah bool) {
	implied := duration
	if isDah {
		implied = duration / 3.0
	}
	w.units.Add(implied)

	median := w.units.Median()
	if w.smoothed == 0 {
		w.smoothed = median
	} else {
		w.smoothed = w.smoothed*(1-unitSmoothAlpha) + median*unitSmoothAlpha
	}
	// 钳制到 [5, 60] WPM 对应的 unit 范围
	if w.smoothed > 1.2/wpmMin {
		w.smoothed = 1.2 / wpmMin
	}
	if w.smoothed < 1.2/wpmMax {
		w.smoothed = 1.2 / wpmMax
	}
}

// Unit 间隔判决用的 unit 时长：override 优先，其次自适应估计
func (w *WPMTracker) Unit() float64 {
	if w.override > 0 {
		return 1.2 / float64(w.override)
	}
	if w.smoothed == 0 {
		return defaultUnit
	}
	return w.smoothed
}

// WPM 当前自适应估计 (即使 override 生效也照常报告，供诊断对比)
func (w *WPMTracker) WPM() int {
	unit := w.smoothed
	if unit == 0 {
		unit = defaultUnit
	}
	wpm := int(math.Round(1.2 / unit))
	if wpm < wpmMin {
		wpm = wpmMin
	}
	if wpm > wpmMax {
		wpm = wpmMax
	}
	return wpm
}

// SetOverride 设置手动 WPM；超出 [5,60] 的值在 Session 层拒绝
func (w *WPMTracker) SetOverride(wpm int) { w.override = wpm }

// ClearOverride 恢复自适应估计
func (w *WPMTracker) ClearOverride() { w.override = 0 }

// Override 当前 override (0 表示未设置)
func (w *WPMTracker) Override() int { return w.override }

// Reset 清空估计状态 (override 保留，它是配置不是状态)
func (w *WPMTracker) Reset() {
	w.units.Reset()
	w.smoothed = 0
}

// TimingDecoder 摩尔斯时序状态机
// 只消费 KeyEvent 流，对产生它的检测后端一无所知。
// 两个状态：Idle (无累积图案) 和 Accumulating (字符进行中)。
type TimingDecoder struct {
	wpm     *WPMTracker
	pattern string

	keyDown  bool
	lastDown float64
	lastUp   float64
	started  bool
}

// NewTimingDecoder 创建解码器
func NewTimingDecoder() *TimingDecoder {
	return &TimingDecoder{wpm: NewWPMTracker()}
}

// WPM 返回估计器 (Session 通过它读取/设置码速)
func (d *TimingDecoder) WPM() *WPMTracker { return d.wpm }

// Idle 当前是否没有累积中的图案
func (d *TimingDecoder) Idle() bool { return d.pattern == "" }

// Feed 输入一个键控翻转，返回零或多条解码输出
func (d *TimingDecoder) Feed(ev KeyEvent) []DecodedOutput {
	if ev.IsDown == d.keyDown {
		// 重复边沿，检测器不会产生，丢弃
		return nil
	}

	var outs []DecodedOutput
	if ev.IsDown {
		if d.started {
			off := ev.Timestamp - d.lastUp
			outs = d.classifyGap(off)
		}
		d.keyDown = true
		d.lastDown = ev.Timestamp
		d.started = true
	} else {
		on := ev.Timestamp - d.lastDown
		outs = d.classifyMark(on)
		d.keyDown = false
		d.lastUp = ev.Timestamp
	}
	return outs
}

// classifyMark 键抬起：按时长分类点/划并累积到当前图案
func (d *TimingDecoder) classifyMark(on float64) []DecodedOutput {
	unit := d.wpm.Unit()

	elem := MorseElement{Kind: ElemDit, Duration: on}
	symbol := "."
	isDah := on >= unit*ditDahBoundary
	if isDah {
		elem.Kind = ElemDah
		symbol = "-"
	}
	d.pattern += symbol
	d.wpm.AddMark(on, isDah)

	return []DecodedOutput{{Kind: KindElement, Element: elem}}
}

// classifyGap 键按下：对刚结束的静音分类
// <2u 片段间隔；2~5u 字符间隔 (flush 图案)；>=5u 单词间隔 (再补一个空格)
func (d *TimingDecoder) classifyGap(off float64) []DecodedOutput {
	unit := d.wpm.Unit()

	if off < unit*charGapBoundary {
		return []DecodedOutput{{Kind: KindElement, Element: MorseElement{Kind: GapElement, Duration: off}}}
	}

	var outs []DecodedOutput
	if out, ok := d.flushPattern(); ok {
		outs = append(outs, out)
	}
	if off >= unit*wordGapBoundary {
		outs = append(outs, DecodedOutput{Kind: KindWordSpace, Element: MorseElement{Kind: GapWord, Duration: off}})
	} else {
		outs = append(outs, DecodedOutput{Kind: KindElement, Element: MorseElement{Kind: GapCharacter, Duration: off}})
	}
	return outs
}

// Tick 周期性超时检查 (由 Session 以固定间隔调用，now 为采样流时间)
// 静音超过字符 flush 阈值且有挂起图案时，强制输出一次；
// 这是尾部字符唯一的输出途径。flush 后回到 Idle，不会重复触发。
func (d *TimingDecoder) Tick(now float64) []DecodedOutput {
	if d.keyDown || d.pattern == "" {
		return nil
	}
	if now-d.lastUp < d.wpm.Unit()*wordGapBoundary {
		return nil
	}
	if out, ok := d.flushPattern(); ok {
		return []DecodedOutput{out}
	}
	return nil
}

// flushPattern 把累积的图案查表输出
// 查不到的图案按 "[pattern]" 字面输出，便于诊断，绝不静默丢弃
func (d *TimingDecoder) flushPattern() (DecodedOutput, bool) {
	if d.pattern == "" {
		return DecodedOutput{}, false
	}
	text, ok := MorseCodeMap[d.pattern]
	if !ok {
		text = "[" + d.pattern + "]"
	}
	d.pattern = ""
	return DecodedOutput{Kind: KindCharacter, Text: text}, true
}

// Reset 丢弃全部状态 (挂起图案、码速估计)，override 保留
func (d *TimingDecoder) Reset() {
	d.pattern = ""
	d.keyDown = false
	d.lastDown = 0
	d.lastUp = 0
	d.started = false
	d.wpm.Reset()
}
