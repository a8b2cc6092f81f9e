package detect

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// OutlierDetector 异常值检测能力：对N个标量计数返回逐个的离群标记。
// 任何带污染率参数的无监督离群检测实现均可注入。
type OutlierDetector interface {
	FitPredict(values []float64) []bool
}

// MedianDistanceDetector 默认离群检测器：以距总体中位数的绝对距离为
// 离群分数，标记距离超过 (1-Contamination) 分位数的样本，
// 预期标记约 Contamination 比例的总体。
type MedianDistanceDetector struct {
	Contamination float64
}

// FitPredict 对计数向量逐个返回是否离群
func (d MedianDistanceDetector) FitPredict(values []float64) []bool {
	if len(values) == 0 {
		return nil
	}
	contamination := d.Contamination
	if contamination <= 0 || contamination >= 1 {
		contamination = DefaultContamination
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	distances := make([]float64, len(values))
	for i, v := range values {
		distances[i] = math.Abs(v - median)
	}
	sortedDist := append([]float64(nil), distances...)
	sort.Float64s(sortedDist)
	cutoff := stat.Quantile(1-contamination, stat.Empirical, sortedDist, nil)

	flags := make([]bool, len(values))
	for i, dist := range distances {
		flags[i] = dist > cutoff
	}
	return flags
}

// DetectAnomalySignal 异常模型信号：对每用户提交计数跑离群检测，
// 离群计40分，提交数超过10再加20分，贡献为0时不产出告警
func DetectAnomalySignal(s *Snapshot, detector OutlierDetector) ([]Finding, error) {
	byUser := s.submissionsByUser()
	if len(byUser) == 0 {
		return nil, nil
	}

	userIDs := sortedUserIDs(byUser)
	counts := make([]float64, len(userIDs))
	for i, uid := range userIDs {
		counts[i] = float64(len(byUser[uid]))
	}

	flags := detector.FitPredict(counts)
	if len(flags) != len(userIDs) {
		return nil, fmt.Errorf("outlier detector returned %d flags for %d users", len(flags), len(userIDs))
	}

	var findings []Finding
	for i, uid := range userIDs {
		risk := 0
		if flags[i] {
			risk += RiskAnomalyFlag
		}
		if int(counts[i]) > AnomalyVolumeMin {
			risk += RiskAnomalyVolume
		}
		if risk > 0 {
			findings = append(findings, Finding{
				UserID:   uid,
				Category: CategoryAnomalyModel,
				Detail:   fmt.Sprintf("提交行为统计异常（共%d次提交）", int(counts[i])),
				Risk:     risk,
			})
		}
	}
	return findings, nil
}
