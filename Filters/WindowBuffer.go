package Filters

import "sort"

// WindowBuffer 固定大小的滑动窗口缓冲区
// 用于对最近 N 个时长样本做中值等稳健统计
type WindowBuffer struct {
	buffer []float64
	index  int
	full   bool
}

// NewWindowBuffer 创建实例
func NewWindowBuffer(size int) *WindowBuffer {
	if size < 1 {
		size = 1
	}
	return &WindowBuffer{
		buffer: make([]float64, size),
	}
}

// Add 写入一个样本，覆盖最旧的数据
func (wb *WindowBuffer) Add(val float64) {
	wb.buffer[wb.index] = val
	wb.index = (wb.index + 1) % len(wb.buffer)
	if wb.index == 0 {
		wb.full = true
	}
}

// Data 返回当前有效数据 (未满时只返回已写入部分)
func (wb *WindowBuffer) Data() []float64 {
	if !wb.full {
		return wb.buffer[:wb.index]
	}
	return wb.buffer
}

// Len 当前有效样本数
func (wb *WindowBuffer) Len() int {
	if wb.full {
		return len(wb.buffer)
	}
	return wb.index
}

// Median 返回有效数据的中值，无数据时返回 0
// 必须复制一份再排序，不能打乱原始写入顺序
func (wb *WindowBuffer) Median() float64 {
	data := wb.Data()
	if len(data) == 0 {
		return 0
	}
	tmp := make([]float64, len(data))
	copy(tmp, data)
	sort.Float64s(tmp)
	return tmp[len(tmp)/2]
}

// Reset 清空缓冲区
func (wb *WindowBuffer) Reset() {
	wb.index = 0
	wb.full = false
}
