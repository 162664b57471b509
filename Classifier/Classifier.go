// Package Classifier 对解码出的文本做业余无线电语义标注：
// 呼号 (带上下文)、惯用语 (prosign)、信号报告、网格、功率、人名。
package Classifier

import (
	"regexp"
	"strings"
)

// SpanKind 标注片段类型
type SpanKind string

const (
	KindText     SpanKind = "text"
	KindCallsign SpanKind = "callsign"
	KindProsign  SpanKind = "prosign"
	KindReport   SpanKind = "report"
	KindGrid     SpanKind = "grid"
	KindPower    SpanKind = "power"
	KindName     SpanKind = "name"
)

// CallsignContext 呼号出现的上下文
type CallsignContext string

const (
	// ContextCQ 紧跟在 CQ 之后 (对方在呼叫)
	ContextCQ CallsignContext = "cqCall"
	// ContextDE 紧跟在 DE 之后 (对方自报呼号)
	ContextDE CallsignContext = "deIdentifier"
	// ContextResponse 非句首的其他位置 (通常是被叫方)
	ContextResponse CallsignContext = "response"
	// ContextUnknown 无法判断
	ContextUnknown CallsignContext = "unknown"
)

// Span 一个标注后的 token
type Span struct {
	Text    string          `json:"text"`
	Kind    SpanKind        `json:"kind"`
	Context CallsignContext `json:"context,omitempty"` // 仅呼号有意义
}

// TranscriptEntry 一条成文记录：时间戳、原始文本、标注片段
type TranscriptEntry struct {
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
	Spans     []Span  `json:"spans"`
}

// DetectedCallsign 会话中检测到的呼号
type DetectedCallsign struct {
	Call    string          `json:"call"`
	Context CallsignContext `json:"context"`
}

// 业余呼号: 1~3 位字母数字前缀 + 1 位数字 + 1~4 位字母后缀
var callsignRe = regexp.MustCompile(`^[A-Z0-9]{1,3}[0-9][A-Z]{1,4}$`)

// RST 信号报告: R 1-5, S 1-9, T 1-9
var reportRe = regexp.MustCompile(`^[1-5][1-9][1-9]$`)

// Maidenhead 网格: 4 位或 6 位
var gridRe = regexp.MustCompile(`^[A-R]{2}[0-9]{2}(?:[A-X]{2})?$`)

// 功率: 如 5W, 100W
var powerRe = regexp.MustCompile(`^[0-9]{1,4}W$`)

// prosignSet 固定惯用语集合
// 尖括号形式来自解码表 (<SK> 等)，其余为常见缩语
var prosignSet = map[string]bool{
	"CQ": true, "DE": true, "K": true, "KN": true, "BK": true,
	"AR": true, "SK": true, "AS": true, "R": true, "TU": true,
	"73": true, "88": true, "QRZ": true, "QTH": true, "QSL": true,
	"<SK>": true, "<AS>": true, "<VE>": true, "<BK>": true,
}

// Classifier 标注器，同时维护会话级的呼号状态
type Classifier struct {
	calls     []DetectedCallsign
	index     map[string]int
	last      string
	seenToken bool
	prevToken string
}

// New 创建标注器
func New() *Classifier {
	return &Classifier{index: make(map[string]int)}
}

// Classify 标注一条文本，返回成文记录和本次新出现的呼号
// token 顺序决定呼号上下文：CQ 之后 -> cqCall，DE 之后 -> deIdentifier，
// 其余非句首位置 -> response，否则 unknown
func (c *Classifier) Classify(timestamp float64, text string) (TranscriptEntry, []DetectedCallsign) {
	entry := TranscriptEntry{Timestamp: timestamp, Text: text}
	var fresh []DetectedCallsign

	for _, token := range strings.Fields(strings.ToUpper(text)) {
		span := c.classifyToken(token)
		if span.Kind == KindCallsign {
			if added := c.recordCallsign(token, span.Context); added {
				fresh = append(fresh, DetectedCallsign{Call: token, Context: span.Context})
			}
		}
		entry.Spans = append(entry.Spans, span)
		c.prevToken = token
		c.seenToken = true
	}
	return entry, fresh
}

func (c *Classifier) classifyToken(token string) Span {
	switch {
	case prosignSet[token]:
		return Span{Text: token, Kind: KindProsign}
	case reportRe.MatchString(token):
		return Span{Text: token, Kind: KindReport}
	case powerRe.MatchString(token):
		return Span{Text: token, Kind: KindPower}
	case callsignRe.MatchString(token):
		return Span{Text: token, Kind: KindCallsign, Context: c.callsignContext()}
	case gridRe.MatchString(token):
		return Span{Text: token, Kind: KindGrid}
	case c.prevToken == "NAME":
		return Span{Text: token, Kind: KindName}
	}
	return Span{Text: token, Kind: KindText}
}

func (c *Classifier) callsignContext() CallsignContext {
	switch {
	case c.prevToken == "CQ":
		return ContextCQ
	case c.prevToken == "DE":
		return ContextDE
	case c.seenToken:
		return ContextResponse
	}
	return ContextUnknown
}

// recordCallsign 去重记录，保持首次出现顺序；多个呼号并存时全部保留
// 已知呼号如果这次带着更明确的上下文，升级其记录
func (c *Classifier) recordCallsign(call string, ctx CallsignContext) (added bool) {
	c.last = call
	if i, ok := c.index[call]; ok {
		if c.calls[i].Context == ContextUnknown && ctx != ContextUnknown {
			c.calls[i].Context = ctx
		}
		return false
	}
	c.index[call] = len(c.calls)
	c.calls = append(c.calls, DetectedCallsign{Call: call, Context: ctx})
	return true
}

// Callsigns 返回会话中全部呼号 (首次出现顺序) 的副本
func (c *Classifier) Callsigns() []DetectedCallsign {
	out := make([]DetectedCallsign, len(c.calls))
	copy(out, c.calls)
	return out
}

// LastCallsign 最近一次检测到的呼号
func (c *Classifier) LastCallsign() (DetectedCallsign, bool) {
	if c.last == "" {
		return DetectedCallsign{}, false
	}
	return c.calls[c.index[c.last]], true
}

// Reset 清空会话状态
func (c *Classifier) Reset() {
	c.calls = nil
	c.index = make(map[string]int)
	c.last = ""
	c.seenToken = false
	c.prevToken = ""
}
