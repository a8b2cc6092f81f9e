package submission

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"flagwatch/server/admin"
	"flagwatch/server/detect"
	"flagwatch/server/logs"
)

// SubmitFlagRequest 提交flag请求
type SubmitFlagRequest struct {
	Flag string `json:"flag" binding:"required"`
}

// ChallengeView 题目列表项（不含flag）
type ChallengeView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Difficulty string `json:"difficulty"`
	Points     int    `json:"points"`
	Solved     bool   `json:"solved"`
	SolveCount int    `json:"solveCount"`
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Solves   int    `json:"solves"`
}

// HandleListChallenges 获取题目列表（登录用户，不返回flag）
func HandleListChallenges(c *gin.Context, db *sql.DB) {
	userID := c.GetInt64("userID")

	rows, err := db.Query(`
		SELECT ch.id, ch.name, ch.difficulty, ch.points,
		       COUNT(DISTINCT s.user_id) as solve_count,
		       BOOL_OR(s.user_id = $1) as solved
		FROM challenges ch
		LEFT JOIN submissions s ON s.challenge_id = ch.id
		GROUP BY ch.id, ch.name, ch.difficulty, ch.points
		ORDER BY ch.id ASC`, userID)
	if err != nil {
		log.Printf("list challenges error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}
	defer rows.Close()

	var challenges []ChallengeView
	for rows.Next() {
		var ch ChallengeView
		var solved sql.NullBool
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Difficulty, &ch.Points, &ch.SolveCount, &solved); err != nil {
			continue
		}
		ch.Solved = solved.Valid && solved.Bool
		challenges = append(challenges, ch)
	}
	if challenges == nil {
		challenges = []ChallengeView{}
	}

	c.JSON(http.StatusOK, gin.H{"challenges": challenges})
}

// HandleSubmitFlag 提交flag：校验静态flag，记录提交并触发即时检测
func HandleSubmitFlag(c *gin.Context, db *sql.DB) {
	challengeID, err := strconv.ParseInt(c.Param("challengeId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "题目ID格式错误"})
		return
	}
	userID := c.GetInt64("userID")

	var req SubmitFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "请输入flag"})
		return
	}

	var name, flag string
	var points int
	err = db.QueryRow(`SELECT name, flag, points FROM challenges WHERE id = $1`, challengeID).
		Scan(&name, &flag, &points)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "CHALLENGE_NOT_FOUND", "message": "题目不存在"})
		return
	}
	if err != nil {
		log.Printf("query challenge error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	clientIP := c.ClientIP()

	if strings.TrimSpace(req.Flag) != flag {
		logs.WriteLog(db, logs.TypeFlagSubmit, logs.LevelWarning, &userID, &challengeID, clientIP,
			"提交了错误的Flag（题目["+name+"]）", nil)
		c.JSON(http.StatusOK, gin.H{"correct": false, "message": "Flag错误"})
		return
	}

	// 检查是否已解题
	var existing int64
	err = db.QueryRow(`SELECT id FROM submissions WHERE user_id = $1 AND challenge_id = $2 LIMIT 1`,
		userID, challengeID).Scan(&existing)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"correct": true, "message": "该题已解出，请勿重复提交"})
		return
	}
	if err != sql.ErrNoRows {
		log.Printf("query solve error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	device := deviceLabel(c.GetHeader("User-Agent"))
	submittedAt := time.Now().Format(detect.TimeLayout)

	_, err = db.Exec(`
		INSERT INTO submissions (user_id, challenge_id, submitted_at, ip_address, device)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, challengeID, submittedAt, clientIP, device)
	if err != nil {
		log.Printf("insert submission error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}

	logs.WriteLog(db, logs.TypeFlagSubmit, logs.LevelSuccess, &userID, &challengeID, clientIP,
		"解出题目["+name+"]", nil)

	// 提交成功后的即时检测：连续解题间隔与提交量（请求内同步执行，
	// 响应返回前告警已落库）
	runInlineChecks(db, userID)

	c.JSON(http.StatusOK, gin.H{
		"correct": true,
		"message": "恭喜，Flag正确！",
		"score":   points,
	})
}

// runInlineChecks 提交成功后触发的即时检测，命中时广播告警
func runInlineChecks(db *sql.DB, userID int64) {
	if f, err := detect.CheckFastSolve(db, userID); err != nil {
		log.Printf("fast solve check error: %v", err)
	} else if f != nil {
		admin.BroadcastAlert(db, *f)
	}

	if f, err := detect.CheckSubmissionVolume(db, userID); err != nil {
		log.Printf("submission volume check error: %v", err)
	} else if f != nil {
		admin.BroadcastAlert(db, *f)
	}
}

// HandleGetLeaderboard 排行榜：按总分降序，同分先达到者在前
func HandleGetLeaderboard(c *gin.Context, db *sql.DB) {
	rows, err := db.Query(`
		SELECT u.id, u.username,
		       COALESCE(SUM(ch.points), 0) as score,
		       COUNT(s.id) as solves,
		       MAX(s.submitted_at) as last_solve
		FROM users u
		JOIN submissions s ON s.user_id = u.id
		JOIN challenges ch ON ch.id = s.challenge_id
		WHERE u.role = 'user' AND u.status != 'banned'
		GROUP BY u.id, u.username
		ORDER BY score DESC, last_solve ASC, u.id ASC`)
	if err != nil {
		log.Printf("leaderboard error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		var lastSolve sql.NullString
		if err := rows.Scan(&e.UserID, &e.Username, &e.Score, &e.Solves, &lastSolve); err != nil {
			continue
		}
		e.Rank = rank
		rank++
		entries = append(entries, e)
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// HandleGetMySolves 获取当前用户的解题记录
func HandleGetMySolves(c *gin.Context, db *sql.DB) {
	userID := c.GetInt64("userID")

	rows, err := db.Query(`
		SELECT s.id, s.challenge_id, ch.name, ch.difficulty, ch.points, s.submitted_at
		FROM submissions s
		JOIN challenges ch ON ch.id = s.challenge_id
		WHERE s.user_id = $1
		ORDER BY s.id DESC`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	defer rows.Close()

	type Solve struct {
		ID          int64  `json:"id"`
		ChallengeID int64  `json:"challengeId"`
		Name        string `json:"name"`
		Difficulty  string `json:"difficulty"`
		Points      int    `json:"points"`
		SubmittedAt string `json:"submittedAt"`
	}

	var solves []Solve
	for rows.Next() {
		var s Solve
		if err := rows.Scan(&s.ID, &s.ChallengeID, &s.Name, &s.Difficulty, &s.Points, &s.SubmittedAt); err != nil {
			continue
		}
		solves = append(solves, s)
	}
	if solves == nil {
		solves = []Solve{}
	}

	c.JSON(http.StatusOK, gin.H{"solves": solves})
}

// deviceLabel 从User-Agent提取粗粒度设备标识
func deviceLabel(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "curl"):
		return "curl"
	case strings.Contains(ua, "python"):
		return "python-client"
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	}
	if len(userAgent) > 40 {
		return userAgent[:40]
	}
	return userAgent
}
