package detect

import "testing"

func TestMedianDistanceDetector(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []bool
	}{
		{
			name:   "单个极端值被标记",
			values: []float64{1, 1, 1, 1, 10},
			want:   []bool{false, false, false, false, true},
		},
		{
			name:   "均匀总体无离群",
			values: []float64{3, 3, 3, 3, 3},
			want:   []bool{false, false, false, false, false},
		},
		{
			name:   "空输入",
			values: nil,
			want:   nil,
		},
	}

	detector := MedianDistanceDetector{Contamination: DefaultContamination}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detector.FitPredict(tt.values)
			if len(got) != len(tt.want) {
				t.Fatalf("flags = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("flags[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMedianDistanceDetector_InvalidContaminationFallsBack(t *testing.T) {
	for _, c := range []float64{0, -1, 1, 2} {
		detector := MedianDistanceDetector{Contamination: c}
		got := detector.FitPredict([]float64{1, 1, 1, 1, 10})
		if len(got) != 5 || !got[4] {
			t.Errorf("contamination %v: flags = %v, want extreme value flagged", c, got)
		}
	}
}

func TestDetectAnomalySignal(t *testing.T) {
	// 用户1-4各2-3次提交，用户5共20次：
	// 用户5既是离群点（40）又超过10次（20），其余用户无贡献
	var subs []Submission
	id := int64(1)
	addSubs := func(uid int64, n int) {
		for i := 0; i < n; i++ {
			subs = append(subs, testSub(id, uid, int64(i+1), "2025-03-01 09:00:00", "10.0.0.1", "Chrome"))
			id++
		}
	}
	addSubs(1, 2)
	addSubs(2, 2)
	addSubs(3, 2)
	addSubs(4, 3)
	addSubs(5, 20)

	findings, err := DetectAnomalySignal(testSnapshot(nil, nil, subs),
		MedianDistanceDetector{Contamination: DefaultContamination})
	if err != nil {
		t.Fatalf("DetectAnomalySignal() error = %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %+v, want exactly one", findings)
	}
	f := findings[0]
	if f.UserID != 5 {
		t.Errorf("user = %d, want 5", f.UserID)
	}
	if f.Risk != RiskAnomalyFlag+RiskAnomalyVolume {
		t.Errorf("risk = %d, want %d", f.Risk, RiskAnomalyFlag+RiskAnomalyVolume)
	}
	if f.Category != CategoryAnomalyModel {
		t.Errorf("category = %s, want %s", f.Category, CategoryAnomalyModel)
	}
}

func TestDetectAnomalySignal_VolumeWithoutOutlier(t *testing.T) {
	// 所有用户提交量相同且超过10次：无人离群，但每人累计超量20分
	var subs []Submission
	id := int64(1)
	for uid := int64(1); uid <= 3; uid++ {
		for i := 0; i < 12; i++ {
			subs = append(subs, testSub(id, uid, int64(i+1), "2025-03-01 09:00:00", "10.0.0.1", "Chrome"))
			id++
		}
	}
	findings, err := DetectAnomalySignal(testSnapshot(nil, nil, subs),
		MedianDistanceDetector{Contamination: DefaultContamination})
	if err != nil {
		t.Fatalf("DetectAnomalySignal() error = %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(findings))
	}
	for _, f := range findings {
		if f.Risk != RiskAnomalyVolume {
			t.Errorf("user %d risk = %d, want %d", f.UserID, f.Risk, RiskAnomalyVolume)
		}
	}
}

type fixedDetector struct{ flags []bool }

func (d fixedDetector) FitPredict(values []float64) []bool { return d.flags }

func TestDetectAnomalySignal_DetectorMismatch(t *testing.T) {
	subs := []Submission{
		testSub(1, 1, 1, "2025-03-01 09:00:00", "10.0.0.1", "Chrome"),
		testSub(2, 2, 1, "2025-03-01 09:01:00", "10.0.0.2", "Firefox"),
	}
	_, err := DetectAnomalySignal(testSnapshot(nil, nil, subs), fixedDetector{flags: []bool{true}})
	if err == nil {
		t.Fatal("expected error for flag/user count mismatch")
	}
}
