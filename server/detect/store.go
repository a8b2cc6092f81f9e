package detect

import (
	"database/sql"
	"fmt"
)

// UserRisk 用户风险汇总（按总分降序、用户ID升序排列）
type UserRisk struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username,omitempty"`
	TotalRisk int    `json:"totalRisk"`
}

// Store 检测引擎的数据访问接口。引擎只读取用户/题目/提交，
// 只追加告警，从不更新或删除已有记录。
type Store interface {
	// Snapshot 一次性读取全部历史数据
	Snapshot() (*Snapshot, error)
	// HasAlert 用户是否已存在指定类别的告警（去重查询）
	HasAlert(userID int64, category string) (bool, error)
	// AppendAlert 追加一条告警记录
	AppendAlert(userID int64, category, reason string, risk int) error
	// TotalRisk 用户全部告警风险分之和（无告警时为0）
	TotalRisk(userID int64) (int, error)
	// HighRisk 总风险分达到阈值的用户，按总分降序、ID升序
	HighRisk(threshold int) ([]UserRisk, error)
}

// SQLStore 基于 database/sql 的 Store 实现
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 创建数据库存储句柄
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Snapshot 读取用户、题目、提交三张表的当前视图。
// 提交按ID升序读取，保证插入顺序语义。
func (s *SQLStore) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{Challenges: make(map[int64]Challenge)}

	rows, err := s.db.Query(`SELECT id, username, COALESCE(last_login_ip, '') FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.LastLoginIP); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		snap.Users = append(snap.Users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	rows, err = s.db.Query(`SELECT id, name, difficulty, points FROM challenges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	for rows.Next() {
		var c Challenge
		if err := rows.Scan(&c.ID, &c.Name, &c.Difficulty, &c.Points); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		snap.Challenges[c.ID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}

	rows, err = s.db.Query(`SELECT id, user_id, challenge_id, submitted_at, COALESCE(ip_address, ''), COALESCE(device, '') FROM submissions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ChallengeID, &sub.RawTime, &sub.IP, &sub.Device); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.At, sub.TimeErr = parseSubmissionTime(sub.RawTime)
		if sub.TimeErr != nil {
			sub.TimeErr = fmt.Errorf("submission %d: %w", sub.ID, sub.TimeErr)
		}
		snap.Submissions = append(snap.Submissions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}

	return snap, nil
}

// HasAlert 按类别精确匹配查询已有告警
func (s *SQLStore) HasAlert(userID int64, category string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND category = $2`,
		userID, category).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query alerts: %w", err)
	}
	return count > 0, nil
}

// AppendAlert 追加告警
func (s *SQLStore) AppendAlert(userID int64, category, reason string, risk int) error {
	_, err := s.db.Exec(`INSERT INTO alerts (user_id, category, reason, risk_score) VALUES ($1, $2, $3, $4)`,
		userID, category, reason, risk)
	if err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

// TotalRisk 用户风险总分
func (s *SQLStore) TotalRisk(userID int64) (int, error) {
	var total int
	err := s.db.QueryRow(`SELECT COALESCE(SUM(risk_score), 0) FROM alerts WHERE user_id = $1`,
		userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum risk: %w", err)
	}
	return total, nil
}

// HighRisk 高风险用户排名
func (s *SQLStore) HighRisk(threshold int) ([]UserRisk, error) {
	rows, err := s.db.Query(`
		SELECT a.user_id, COALESCE(u.username, ''), SUM(a.risk_score) AS total_risk
		FROM alerts a
		LEFT JOIN users u ON a.user_id = u.id
		GROUP BY a.user_id, u.username
		HAVING SUM(a.risk_score) >= $1
		ORDER BY total_risk DESC, a.user_id ASC`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query high risk: %w", err)
	}
	defer rows.Close()

	var result []UserRisk
	for rows.Next() {
		var r UserRisk
		if err := rows.Scan(&r.UserID, &r.Username, &r.TotalRisk); err != nil {
			return nil, fmt.Errorf("scan high risk: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query high risk: %w", err)
	}
	return result, nil
}
