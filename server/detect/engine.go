package detect

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Engine 作弊检测引擎：编排规则批量执行、告警落库与风险汇总。
// 一次运行只读取一次快照，逐条规则独立提交告警。
type Engine struct {
	store Store
	// Detector 异常模型信号使用的离群检测器（可注入替换）
	Detector OutlierDetector
	// Threshold 高风险用户阈值
	Threshold int
}

// NewEngine 创建引擎，使用默认离群检测器和高风险阈值
func NewEngine(store Store) *Engine {
	return &Engine{
		store:     store,
		Detector:  MedianDistanceDetector{Contamination: DefaultContamination},
		Threshold: HighRiskThreshold,
	}
}

// batchRule 批量扫描中的一条规则
type batchRule struct {
	Name  string
	Run   RuleFunc
	Dedup bool // 入库前按类别查重（目前仅同IP多账号规则承诺去重）
}

// batchRules 全量扫描的固定规则顺序：
// 多账号 → 共享Flag → 解题速度 → 首解难度 → 设备切换 → 突发提交 → 设备指纹冲突
func (e *Engine) batchRules() []batchRule {
	return []batchRule{
		{Name: "multi_account", Run: DetectMultiAccount, Dedup: true},
		{Name: "flag_sharing", Run: DetectFlagSharing},
		{Name: "speed_anomaly", Run: DetectSpeedAnomaly},
		{Name: "hard_first_solve", Run: DetectHardFirstSolve},
		{Name: "device_switching", Run: DetectDeviceSwitching},
		{Name: "burst_submission", Run: DetectBurst},
		{Name: "device_collision", Run: DetectDeviceCollision},
	}
}

// RuleResult 单条规则的执行结果
type RuleResult struct {
	Rule    string `json:"rule"`
	Alerts  int    `json:"alerts"`
	Skipped int    `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report 一次扫描的执行报告
type Report struct {
	ScanID     string       `json:"scanId"`
	StartedAt  string       `json:"startedAt"`
	FinishedAt string       `json:"finishedAt"`
	Rules      []RuleResult `json:"rules"`
	HighRisk   []UserRisk   `json:"highRisk"`
}

// NewAlerts 本次扫描共写入的告警条数
func (r *Report) NewAlerts() int {
	total := 0
	for _, rule := range r.Rules {
		total += rule.Alerts
	}
	return total
}

// RunAll 全量扫描：按固定顺序执行全部批量规则。
// 单条规则失败不影响其余规则（失败记录在报告中）；
// 存储不可用则终止本次运行，已逐规则提交的告警保留。
func (e *Engine) RunAll() (*Report, error) {
	snap, err := e.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	report := &Report{
		ScanID:    uuid.NewString(),
		StartedAt: time.Now().Format(TimeLayout),
	}

	// 空快照直接结束，不逐条执行规则
	if snap.Empty() {
		report.FinishedAt = time.Now().Format(TimeLayout)
		return report, nil
	}

	for _, rule := range e.batchRules() {
		result := RuleResult{Rule: rule.Name}
		findings, ruleErr := rule.Run(snap)
		if ruleErr != nil {
			result.Error = ruleErr.Error()
		}
		inserted, skipped, commitErr := e.commit(findings, rule.Dedup)
		result.Alerts = inserted
		result.Skipped = skipped
		report.Rules = append(report.Rules, result)
		if commitErr != nil {
			// 存储写入失败，终止运行（该规则之前的告警已提交）
			result.Error = commitErr.Error()
			report.Rules[len(report.Rules)-1] = result
			report.FinishedAt = time.Now().Format(TimeLayout)
			return report, commitErr
		}
	}

	report.HighRisk, err = e.store.HighRisk(e.Threshold)
	if err != nil {
		report.FinishedAt = time.Now().Format(TimeLayout)
		return report, fmt.Errorf("high risk ranking: %w", err)
	}
	report.FinishedAt = time.Now().Format(TimeLayout)
	return report, nil
}

// RunAnomalyScan 活跃度扫描：提交量评分 + 异常模型信号
// （与全量扫描分离的独立入口，对应定时/手动触发的AI分析）
func (e *Engine) RunAnomalyScan() (*Report, error) {
	snap, err := e.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	report := &Report{
		ScanID:    uuid.NewString(),
		StartedAt: time.Now().Format(TimeLayout),
	}

	// 空快照直接结束，不逐条执行规则
	if snap.Empty() {
		report.FinishedAt = time.Now().Format(TimeLayout)
		return report, nil
	}

	rules := []batchRule{
		{Name: "submission_volume", Run: DetectSubmissionVolume},
		{Name: "anomaly_model", Run: func(s *Snapshot) ([]Finding, error) {
			return DetectAnomalySignal(s, e.Detector)
		}},
	}
	for _, rule := range rules {
		result := RuleResult{Rule: rule.Name}
		findings, ruleErr := rule.Run(snap)
		if ruleErr != nil {
			result.Error = ruleErr.Error()
		}
		inserted, _, commitErr := e.commit(findings, false)
		result.Alerts = inserted
		report.Rules = append(report.Rules, result)
		if commitErr != nil {
			result.Error = commitErr.Error()
			report.Rules[len(report.Rules)-1] = result
			report.FinishedAt = time.Now().Format(TimeLayout)
			return report, commitErr
		}
	}

	report.HighRisk, err = e.store.HighRisk(e.Threshold)
	if err != nil {
		report.FinishedAt = time.Now().Format(TimeLayout)
		return report, fmt.Errorf("high risk ranking: %w", err)
	}
	report.FinishedAt = time.Now().Format(TimeLayout)
	return report, nil
}

// commit 将规则产出的告警逐条写入存储。
// dedup 为真时跳过已存在同类别告警的用户（check-then-insert，
// 并发写入场景下接受偶发重复，见设计说明）。
func (e *Engine) commit(findings []Finding, dedup bool) (inserted, skipped int, err error) {
	for _, f := range findings {
		if dedup {
			exists, err := e.store.HasAlert(f.UserID, f.Category)
			if err != nil {
				return inserted, skipped, err
			}
			if exists {
				skipped++
				continue
			}
		}
		if err := e.store.AppendAlert(f.UserID, f.Category, f.Detail, f.Risk); err != nil {
			return inserted, skipped, err
		}
		inserted++
	}
	return inserted, skipped, nil
}
