package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// 告警类别（类别用于精确去重匹配，reason 仅用于展示）
const (
	CategoryMultiAccount    = "multi_account"
	CategoryFlagSharing     = "flag_sharing"
	CategorySpeedAnomaly    = "speed_anomaly"
	CategoryHardFirstSolve  = "hard_first_solve"
	CategoryDeviceSwitch    = "device_switching"
	CategoryBurst           = "burst_submission"
	CategoryDeviceCollision = "device_collision"
	CategoryVolume          = "submission_volume"
	CategoryAnomalyModel    = "anomaly_model"
	CategoryFastSolve       = "fast_solve"
	CategoryViolation       = "exam_violation"
)

// 风险贡献分（策略常量，调整阈值不触碰规则逻辑）
const (
	RiskMultiAccount    = 50
	RiskFlagSharing     = 65
	RiskSpeedAnomaly    = 70
	RiskHardFirstSolve  = 55
	RiskDeviceSwitch    = 35
	RiskBurst           = 45
	RiskDeviceCollision = 40
	RiskVolumeModerate  = 20
	RiskVolumeHeavy     = 30
	RiskAnomalyFlag     = 40
	RiskAnomalyVolume   = 20
	RiskFastSolve       = 25
	RiskLoginSameIP     = 40
	RiskViolation       = 15
)

// 检测阈值（策略常量）
const (
	FlagShareWindowSeconds = 30.0
	SpeedAvgSeconds        = 60.0
	BurstWindowSize        = 3
	BurstSpanSeconds       = 300.0
	DeviceSwitchMin        = 2
	VolumeModerateMin      = 5
	VolumeHeavyMin         = 10
	AnomalyVolumeMin       = 10
	FastSolveSeconds       = 10.0
	HighRiskThreshold      = 80
	DefaultContamination   = 0.2
)

// Finding 规则产出的候选告警
type Finding struct {
	UserID   int64
	Category string
	Detail   string
	Risk     int
}

// RuleFunc 启发式规则：对快照的纯函数，只提议新告警，不修改任何数据
type RuleFunc func(*Snapshot) ([]Finding, error)

// DetectMultiAccount 同IP多账号：按最后登录IP分组，
// 同一IP下超过1个账号时对组内每个用户各产出一条告警
func DetectMultiAccount(s *Snapshot) ([]Finding, error) {
	byIP := make(map[string][]User)
	for _, u := range s.Users {
		if u.LastLoginIP == "" {
			continue
		}
		byIP[u.LastLoginIP] = append(byIP[u.LastLoginIP], u)
	}

	ips := make([]string, 0, len(byIP))
	for ip := range byIP {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var findings []Finding
	for _, ip := range ips {
		group := byIP[ip]
		if len(group) <= 1 {
			continue
		}
		for _, u := range group {
			findings = append(findings, Finding{
				UserID:   u.ID,
				Category: CategoryMultiAccount,
				Detail:   fmt.Sprintf("同一IP(%s)下检测到%d个账号", ip, len(group)),
				Risk:     RiskMultiAccount,
			})
		}
	}
	return findings, nil
}

// DetectFlagSharing 共享Flag检测：同一题目下任意两条不同用户的提交
// 时间差小于30秒时，对两名用户各产出一条告警。
// 题目内所有提交两两比较，小规模下 O(n²) 是有意为之。
func DetectFlagSharing(s *Snapshot) ([]Finding, error) {
	byChallenge := s.submissionsByChallenge()

	var findings []Finding
	for _, chID := range sortedUserIDs(byChallenge) {
		subs := byChallenge[chID]
		for i := 0; i < len(subs); i++ {
			for j := i + 1; j < len(subs); j++ {
				if subs[i].UserID == subs[j].UserID {
					continue
				}
				if subs[i].TimeErr != nil {
					return nil, subs[i].TimeErr
				}
				if subs[j].TimeErr != nil {
					return nil, subs[j].TimeErr
				}
				diff := math.Abs(subs[j].At.Sub(subs[i].At).Seconds())
				if diff < FlagShareWindowSeconds {
					detail := fmt.Sprintf("疑似共享Flag（题目%d，提交间隔%.0f秒）", chID, diff)
					findings = append(findings,
						Finding{UserID: subs[i].UserID, Category: CategoryFlagSharing, Detail: detail, Risk: RiskFlagSharing},
						Finding{UserID: subs[j].UserID, Category: CategoryFlagSharing, Detail: detail, Risk: RiskFlagSharing},
					)
				}
			}
		}
	}
	return findings, nil
}

// DetectSpeedAnomaly 解题速度异常：按时间排序计算相邻提交间隔，
// 平均间隔小于60秒（至少2次提交）时产出一条告警
func DetectSpeedAnomaly(s *Snapshot) ([]Finding, error) {
	byUser := s.submissionsByUser()

	var findings []Finding
	for _, uid := range sortedUserIDs(byUser) {
		subs := byUser[uid]
		if len(subs) < 2 {
			continue
		}
		ordered, err := sortByTime(subs)
		if err != nil {
			return nil, err
		}
		var total float64
		for i := 1; i < len(ordered); i++ {
			total += ordered[i].At.Sub(ordered[i-1].At).Seconds()
		}
		avg := total / float64(len(ordered)-1)
		if avg < SpeedAvgSeconds {
			findings = append(findings, Finding{
				UserID:   uid,
				Category: CategorySpeedAnomaly,
				Detail:   fmt.Sprintf("解题速度异常（平均间隔%.1f秒）", avg),
				Risk:     RiskSpeedAnomaly,
			})
		}
	}
	return findings, nil
}

// DetectHardFirstSolve 首解难度异常：用户时间最早的提交对应Hard难度题目时告警。
// 提交引用了不存在的题目时跳过该用户并记录错误，其余用户继续处理。
func DetectHardFirstSolve(s *Snapshot) ([]Finding, error) {
	byUser := s.submissionsByUser()

	var findings []Finding
	var errs []error
	for _, uid := range sortedUserIDs(byUser) {
		ordered, err := sortByTime(byUser[uid])
		if err != nil {
			return nil, err
		}
		first := ordered[0]
		ch, ok := s.Challenges[first.ChallengeID]
		if !ok {
			errs = append(errs, fmt.Errorf("submission %d: challenge %d not found", first.ID, first.ChallengeID))
			continue
		}
		if ch.Difficulty == DifficultyHard {
			findings = append(findings, Finding{
				UserID:   uid,
				Category: CategoryHardFirstSolve,
				Detail:   fmt.Sprintf("首次解题即为Hard难度题目[%s]", ch.Name),
				Risk:     RiskHardFirstSolve,
			})
		}
	}
	return findings, errors.Join(errs...)
}

// DetectDeviceSwitching 设备频繁切换：提交记录中的不同设备标识超过2个时告警
func DetectDeviceSwitching(s *Snapshot) ([]Finding, error) {
	byUser := s.submissionsByUser()

	var findings []Finding
	for _, uid := range sortedUserIDs(byUser) {
		devices := make(map[string]bool)
		for _, sub := range byUser[uid] {
			devices[sub.Device] = true
		}
		if len(devices) > DeviceSwitchMin {
			findings = append(findings, Finding{
				UserID:   uid,
				Category: CategoryDeviceSwitch,
				Detail:   fmt.Sprintf("检测到%d个不同设备提交", len(devices)),
				Risk:     RiskDeviceSwitch,
			})
		}
	}
	return findings, nil
}

// DetectBurst 突发提交：按时间排序后以3条提交为滑动窗口，
// 任一窗口首尾跨度小于300秒时产出一条告警（命中即停，每用户最多一条）
func DetectBurst(s *Snapshot) ([]Finding, error) {
	byUser := s.submissionsByUser()

	var findings []Finding
	for _, uid := range sortedUserIDs(byUser) {
		subs := byUser[uid]
		if len(subs) < BurstWindowSize {
			continue
		}
		ordered, err := sortByTime(subs)
		if err != nil {
			return nil, err
		}
		for i := 0; i+BurstWindowSize <= len(ordered); i++ {
			span := ordered[i+BurstWindowSize-1].At.Sub(ordered[i].At).Seconds()
			if span < BurstSpanSeconds {
				findings = append(findings, Finding{
					UserID:   uid,
					Category: CategoryBurst,
					Detail:   fmt.Sprintf("突发提交（%d题耗时%.0f秒）", BurstWindowSize, span),
					Risk:     RiskBurst,
				})
				break
			}
		}
	}
	return findings, nil
}

// DetectDeviceCollision 设备指纹冲突：同一设备标识被多个用户使用时，
// 对每个受影响用户各产出一条告警
func DetectDeviceCollision(s *Snapshot) ([]Finding, error) {
	deviceUsers := make(map[string]map[int64]bool)
	for _, sub := range s.Submissions {
		if deviceUsers[sub.Device] == nil {
			deviceUsers[sub.Device] = make(map[int64]bool)
		}
		deviceUsers[sub.Device][sub.UserID] = true
	}

	devices := make([]string, 0, len(deviceUsers))
	for d := range deviceUsers {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	var findings []Finding
	for _, device := range devices {
		users := deviceUsers[device]
		if len(users) <= 1 {
			continue
		}
		for _, uid := range sortedUserIDs(users) {
			findings = append(findings, Finding{
				UserID:   uid,
				Category: CategoryDeviceCollision,
				Detail:   fmt.Sprintf("设备指纹[%s]被%d个用户共用", device, len(users)),
				Risk:     RiskDeviceCollision,
			})
		}
	}
	return findings, nil
}

// DetectSubmissionVolume 提交量评分：超过5次计20分，超过10次再加30分，
// 贡献为0时不产出告警
func DetectSubmissionVolume(s *Snapshot) ([]Finding, error) {
	byUser := s.submissionsByUser()

	var findings []Finding
	for _, uid := range sortedUserIDs(byUser) {
		count := len(byUser[uid])
		risk := 0
		if count > VolumeModerateMin {
			risk += RiskVolumeModerate
		}
		if count > VolumeHeavyMin {
			risk += RiskVolumeHeavy
		}
		if risk > 0 {
			findings = append(findings, Finding{
				UserID:   uid,
				Category: CategoryVolume,
				Detail:   fmt.Sprintf("提交频次过高（共%d次提交）", count),
				Risk:     risk,
			})
		}
	}
	return findings, nil
}
