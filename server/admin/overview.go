package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"flagwatch/server/detect"
)

// OverviewStats 概览统计
type OverviewStats struct {
	Users         int            `json:"users"`
	Challenges    int            `json:"challenges"`
	Submissions   int            `json:"submissions"`
	Alerts        int            `json:"alerts"`
	HighRiskUsers int            `json:"highRiskUsers"`
	ByCategory    map[string]int `json:"byCategory"`
}

// HandleAdminOverview 后台概览统计
func HandleAdminOverview(c *gin.Context, db *sql.DB) {
	stats := OverviewStats{ByCategory: make(map[string]int)}

	// 查询用户数
	db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = 'user'`).Scan(&stats.Users)

	// 查询题目数
	db.QueryRow(`SELECT COUNT(*) FROM challenges`).Scan(&stats.Challenges)

	// 查询提交数
	db.QueryRow(`SELECT COUNT(*) FROM submissions`).Scan(&stats.Submissions)

	// 查询告警数
	db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&stats.Alerts)

	// 查询高风险用户数
	db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT user_id FROM alerts GROUP BY user_id HAVING SUM(risk_score) >= $1
		) AS high_risk`, detect.HighRiskThreshold).Scan(&stats.HighRiskUsers)

	// 按类别统计告警
	rows, err := db.Query(`SELECT category, COUNT(*) FROM alerts GROUP BY category`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var category string
			var count int
			if err := rows.Scan(&category, &count); err == nil {
				stats.ByCategory[category] = count
			}
		}
	}

	// 风险总分最高的用户
	topRisk, err := detect.NewSQLStore(db).HighRisk(detect.HighRiskThreshold)
	if err != nil {
		topRisk = []detect.UserRisk{}
	}
	if len(topRisk) > 10 {
		topRisk = topRisk[:10]
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":     stats,
		"topRisk":   topRisk,
		"threshold": detect.HighRiskThreshold,
	})
}
