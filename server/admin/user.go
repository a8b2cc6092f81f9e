package admin

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"flagwatch/server/logs"
)

// UserDetail 用户详情
type UserDetail struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	Status      string  `json:"status"`
	LastLoginIP *string `json:"lastLoginIp"`
	LastLoginAt *string `json:"lastLoginAt"`
	TotalRisk   int     `json:"totalRisk"`
	AlertCount  int     `json:"alertCount"`
	CreatedAt   string  `json:"createdAt"`
}

// HandleListUsers 获取用户列表（含风险总分）
func HandleListUsers(c *gin.Context, db *sql.DB) {
	rows, err := db.Query(`
		SELECT u.id, u.username, u.role, u.status, u.last_login_ip,
		       TO_CHAR(u.last_login_at, 'YYYY-MM-DD HH24:MI') as last_login_at,
		       COALESCE(SUM(a.risk_score), 0) as total_risk,
		       COUNT(a.id) as alert_count,
		       TO_CHAR(u.created_at, 'YYYY-MM-DD HH24:MI') as created_at
		FROM users u
		LEFT JOIN alerts a ON a.user_id = u.id
		GROUP BY u.id, u.username, u.role, u.status, u.last_login_ip, u.last_login_at, u.created_at
		ORDER BY u.id ASC`)
	if err != nil {
		log.Printf("list users error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}
	defer rows.Close()

	var users []UserDetail
	for rows.Next() {
		var u UserDetail
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.Status, &u.LastLoginIP,
			&u.LastLoginAt, &u.TotalRisk, &u.AlertCount, &u.CreatedAt); err != nil {
			log.Printf("scan user error: %v", err)
			continue
		}
		users = append(users, u)
	}
	if users == nil {
		users = []UserDetail{}
	}

	// 统计
	var total, activeToday, bannedCount int64
	db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&total)
	db.QueryRow(`SELECT COUNT(*) FROM users WHERE last_login_at >= CURRENT_DATE`).Scan(&activeToday)
	db.QueryRow(`SELECT COUNT(*) FROM users WHERE status = 'banned'`).Scan(&bannedCount)

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"stats": gin.H{
			"total":       total,
			"activeToday": activeToday,
			"bannedCount": bannedCount,
		},
	})
}

// HandleBanUser 封禁用户（作弊处置）
func HandleBanUser(c *gin.Context, db *sql.DB) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "用户ID格式错误"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	c.ShouldBindJSON(&req)

	result, err := db.Exec(`UPDATE users SET status = 'banned', updated_at = NOW() WHERE id = $1 AND role != 'super'`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND", "message": "用户不存在或不可封禁"})
		return
	}

	var username string
	db.QueryRow(`SELECT username FROM users WHERE id = $1`, userID).Scan(&username)

	message := "用户 [" + username + "] 已被封禁"
	if req.Reason != "" {
		message += "，原因: " + req.Reason
	}
	logs.WriteLog(db, logs.TypeCheating, logs.LevelWarning, &userID, nil, c.ClientIP(), message, nil)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "用户 [" + username + "] 已被封禁",
	})
}

// HandleUnbanUser 解除用户封禁
func HandleUnbanUser(c *gin.Context, db *sql.DB) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "用户ID格式错误"})
		return
	}

	result, err := db.Exec(`UPDATE users SET status = 'active', updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND"})
		return
	}

	var username string
	db.QueryRow(`SELECT username FROM users WHERE id = $1`, userID).Scan(&username)

	logs.WriteLog(db, logs.TypeAdminOp, logs.LevelInfo, &userID, nil, c.ClientIP(),
		"用户 ["+username+"] 已解除封禁", nil)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "用户 [" + username + "] 已解除封禁",
	})
}
