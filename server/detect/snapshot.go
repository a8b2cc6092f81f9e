package detect

import (
	"fmt"
	"sort"
	"time"
)

// TimeLayout 提交时间格式（本地时间，秒级精度）
const TimeLayout = "2006-01-02 15:04:05"

// 题目难度等级
const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// User 检测引擎消费的用户快照（只读）
type User struct {
	ID          int64
	Username    string
	LastLoginIP string
}

// Challenge 检测引擎消费的题目快照（只读）
type Challenge struct {
	ID         int64
	Name       string
	Difficulty string
	Points     int
}

// Submission 正确提交记录快照，按插入顺序（ID递增）排列
type Submission struct {
	ID          int64
	UserID      int64
	ChallengeID int64
	RawTime     string
	At          time.Time
	TimeErr     error
	IP          string
	Device      string
}

// Snapshot 某一时刻的历史数据视图，规则在一次运行内将其视为不可变
type Snapshot struct {
	Users       []User
	Challenges  map[int64]Challenge
	Submissions []Submission
}

// Empty 快照是否没有任何可分析数据
func (s *Snapshot) Empty() bool {
	return len(s.Users) == 0 && len(s.Submissions) == 0
}

// parseSubmissionTime 解析提交时间字符串
func parseSubmissionTime(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed submission time %q: %w", raw, err)
	}
	return t, nil
}

// submissionsByUser 按用户分组，保持插入顺序
func (s *Snapshot) submissionsByUser() map[int64][]Submission {
	byUser := make(map[int64][]Submission)
	for _, sub := range s.Submissions {
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}
	return byUser
}

// submissionsByChallenge 按题目分组，保持插入顺序
func (s *Snapshot) submissionsByChallenge() map[int64][]Submission {
	byChallenge := make(map[int64][]Submission)
	for _, sub := range s.Submissions {
		byChallenge[sub.ChallengeID] = append(byChallenge[sub.ChallengeID], sub)
	}
	return byChallenge
}

// sortedUserIDs 分组map的确定性遍历顺序（用户ID升序）
func sortedUserIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortByTime 按提交时间排序（时间相同时保持插入顺序）
// 任一记录时间解析失败则返回该错误，调用方整条规则失败
func sortByTime(subs []Submission) ([]Submission, error) {
	for _, sub := range subs {
		if sub.TimeErr != nil {
			return nil, sub.TimeErr
		}
	}
	ordered := append([]Submission(nil), subs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.Before(ordered[j].At)
	})
	return ordered, nil
}
