package Filters

import "testing"

func TestAdaptiveThreshold_RejectsInvalidHysteresis(t *testing.T) {
	// onRatio 必须严格大于 offRatio
	if _, err := NewAdaptiveThreshold(1.3, 2.0, 100); err == nil {
		t.Error("Expected error for onRatio < offRatio")
	}
	if _, err := NewAdaptiveThreshold(2.0, 2.0, 100); err == nil {
		t.Error("Expected error for onRatio == offRatio")
	}
	if _, err := NewAdaptiveThreshold(2.0, 1.3, 0); err == nil {
		t.Error("Expected error for zero calibration window")
	}
}

func TestAdaptiveThreshold_CalibrationProducesNoEvents(t *testing.T) {
	at, err := NewAdaptiveThreshold(2.0, 1.3, 50)
	if err != nil {
		t.Fatal(err)
	}

	// 校准窗口内即使给出很强的信号也不应产生键控翻转
	for i := 0; i < 50; i++ {
		sample := 0.01
		if i%2 == 0 {
			sample = 0.9
		}
		down, changed := at.Update(sample)
		if down || changed {
			t.Fatalf("Sample %d: got event during calibration", i)
		}
		if !at.Calibrating() && i < 49 {
			t.Fatalf("Sample %d: calibration ended early", i)
		}
	}
	if at.Calibrating() {
		t.Error("Calibration should be complete after window")
	}
}

func TestAdaptiveThreshold_KeyDetection(t *testing.T) {
	at, err := NewAdaptiveThreshold(2.0, 1.3, 20)
	if err != nil {
		t.Fatal(err)
	}

	// 校准：纯底噪
	for i := 0; i < 20; i++ {
		at.Update(0.01)
	}

	// 强信号应触发键按下
	var gotDown bool
	for i := 0; i < 10; i++ {
		down, changed := at.Update(0.5)
		if changed && down {
			gotDown = true
		}
	}
	if !gotDown {
		t.Fatal("Expected key-down on strong signal")
	}
	if !at.KeyDown() {
		t.Error("KeyDown should report true while signal present")
	}

	// 回到底噪应触发键抬起
	var gotUp bool
	for i := 0; i < 50; i++ {
		down, changed := at.Update(0.01)
		if changed && !down {
			gotUp = true
		}
	}
	if !gotUp {
		t.Fatal("Expected key-up when signal drops")
	}
}

func TestAdaptiveThreshold_HysteresisBand(t *testing.T) {
	at, err := NewAdaptiveThreshold(2.0, 1.3, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		at.Update(0.01)
	}

	// 先触发键按下
	for i := 0; i < 5; i++ {
		at.Update(0.5)
	}
	if !at.KeyDown() {
		t.Fatal("Setup failed: key should be down")
	}

	// 落在迟滞带内 (offRatio < ratio < onRatio) 的样本不应翻转
	floor := at.NoiseFloor()
	mid := floor * 1.6
	for i := 0; i < 5; i++ {
		if _, changed := at.Update(mid); changed {
			t.Fatal("Sample inside hysteresis band must not toggle state")
		}
	}
	if !at.KeyDown() {
		t.Error("Key should stay down inside hysteresis band")
	}
}

func TestAdaptiveThreshold_Reset(t *testing.T) {
	at, _ := NewAdaptiveThreshold(2.0, 1.3, 10)
	for i := 0; i < 10; i++ {
		at.Update(0.01)
	}
	for i := 0; i < 5; i++ {
		at.Update(0.5)
	}

	at.Reset()
	if !at.Calibrating() {
		t.Error("Reset should re-enter calibration window")
	}
	if at.KeyDown() {
		t.Error("Reset should clear key state")
	}
}

func TestWindowBuffer_Median(t *testing.T) {
	wb := NewWindowBuffer(5)
	if wb.Median() != 0 {
		t.Error("Empty buffer median should be 0")
	}

	for _, v := range []float64{3, 1, 2} {
		wb.Add(v)
	}
	if got := wb.Median(); got != 2 {
		t.Errorf("Expected median 2, got %g", got)
	}

	// 写满后覆盖最旧数据
	for _, v := range []float64{10, 10, 10, 10} {
		wb.Add(v)
	}
	if got := wb.Median(); got != 10 {
		t.Errorf("Expected median 10 after overwrite, got %g", got)
	}
	if wb.Len() != 5 {
		t.Errorf("Expected length 5, got %d", wb.Len())
	}
}

func TestWindowBuffer_MedianKeepsOrder(t *testing.T) {
	wb := NewWindowBuffer(3)
	wb.Add(3)
	wb.Add(1)
	wb.Add(2)
	wb.Median()

	// Median 不能打乱写入顺序
	data := wb.Data()
	if data[0] != 3 || data[1] != 1 || data[2] != 2 {
		t.Errorf("Median mutated buffer order: %v", data)
	}
}
