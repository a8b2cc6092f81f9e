package detect

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
)

// 服务路径内联检测：登录、提交成功后同步触发的轻量规则。
// 与批量扫描不同，这些检查直接查询当前库并立即落库告警。

// CheckLoginIP 登录后检查：同一最后登录IP下存在多个账号时记录告警。
// 每次命中都会插入（无去重承诺，审计日志保留每次登录的痕迹）。
func CheckLoginIP(db *sql.DB, userID int64, ip string) (*Finding, error) {
	if ip == "" {
		return nil, nil
	}
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE last_login_ip = $1`, ip).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count users by ip: %w", err)
	}
	if count <= 1 {
		return nil, nil
	}

	f := &Finding{
		UserID:   userID,
		Category: CategoryMultiAccount,
		Detail:   fmt.Sprintf("登录IP(%s)下存在%d个账号", ip, count),
		Risk:     RiskLoginSameIP,
	}
	if err := appendFinding(db, f); err != nil {
		return nil, err
	}
	return f, nil
}

// CheckFastSolve 提交成功后检查：取该用户最近两条提交（按插入顺序，
// 非时间顺序），间隔小于10秒时记录告警
func CheckFastSolve(db *sql.DB, userID int64) (*Finding, error) {
	rows, err := db.Query(`SELECT submitted_at FROM submissions WHERE user_id = $1 ORDER BY id DESC LIMIT 2`, userID)
	if err != nil {
		return nil, fmt.Errorf("query last submissions: %w", err)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan submission time: %w", err)
		}
		raw = append(raw, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query last submissions: %w", err)
	}
	if len(raw) < 2 {
		return nil, nil
	}

	latest, err := parseSubmissionTime(raw[0])
	if err != nil {
		return nil, err
	}
	previous, err := parseSubmissionTime(raw[1])
	if err != nil {
		return nil, err
	}

	diff := latest.Sub(previous).Seconds()
	if diff < 0 || diff >= FastSolveSeconds {
		return nil, nil
	}

	f := &Finding{
		UserID:   userID,
		Category: CategoryFastSolve,
		Detail:   fmt.Sprintf("连续解题间隔过短（%.0f秒）", math.Round(diff)),
		Risk:     RiskFastSolve,
	}
	if err := appendFinding(db, f); err != nil {
		return nil, err
	}
	return f, nil
}

// CheckSubmissionVolume 提交成功后检查：提交总数超过5次计20分，
// 超过10次再加30分。每次提交都会重新计分插入（允许重复累积）。
func CheckSubmissionVolume(db *sql.DB, userID int64) (*Finding, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}

	risk := 0
	if count > VolumeModerateMin {
		risk += RiskVolumeModerate
	}
	if count > VolumeHeavyMin {
		risk += RiskVolumeHeavy
	}
	if risk == 0 {
		return nil, nil
	}

	f := &Finding{
		UserID:   userID,
		Category: CategoryVolume,
		Detail:   fmt.Sprintf("提交频次过高（共%d次提交）", count),
		Risk:     risk,
	}
	if err := appendFinding(db, f); err != nil {
		return nil, err
	}
	return f, nil
}

// RecordViolation 记录客户端监控脚本上报的考试违规行为（切屏、复制粘贴、
// 开发者工具等），每次上报都插入一条告警，不去重。
func RecordViolation(db *sql.DB, userID int64, vtype string) (*Finding, error) {
	f, err := violationFinding(userID, vtype)
	if err != nil {
		return nil, err
	}
	if err := appendFinding(db, f); err != nil {
		return nil, err
	}
	return f, nil
}

func violationFinding(userID int64, vtype string) (*Finding, error) {
	vtype = strings.TrimSpace(vtype)
	if vtype == "" {
		return nil, fmt.Errorf("empty violation type")
	}
	// 上报内容来自客户端，截断防止超长写入
	if len(vtype) > 64 {
		vtype = vtype[:64]
	}
	return &Finding{
		UserID:   userID,
		Category: CategoryViolation,
		Detail:   fmt.Sprintf("考试违规行为（%s）", vtype),
		Risk:     RiskViolation,
	}, nil
}

func appendFinding(db *sql.DB, f *Finding) error {
	_, err := db.Exec(`INSERT INTO alerts (user_id, category, reason, risk_score) VALUES ($1, $2, $3, $4)`,
		f.UserID, f.Category, f.Detail, f.Risk)
	if err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}
