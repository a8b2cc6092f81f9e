package admin

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"flagwatch/server/detect"
)

// Alert 告警记录
type Alert struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username,omitempty"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
	RiskScore int    `json:"riskScore"`
	CreatedAt string `json:"createdAt"`
}

// HandleGetAlerts 获取告警列表（支持按类别、用户过滤和分页）
func HandleGetAlerts(c *gin.Context, db *sql.DB) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 10 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	category := c.Query("category")
	userIDStr := c.Query("userId")

	query := `
		SELECT a.id, a.user_id, COALESCE(u.username, ''), a.category, a.reason, a.risk_score, a.created_at
		FROM alerts a
		LEFT JOIN users u ON a.user_id = u.id
		WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM alerts a WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if category != "" {
		query += " AND a.category = $" + strconv.Itoa(argIdx)
		countQuery += " AND a.category = $" + strconv.Itoa(argIdx)
		args = append(args, category)
		argIdx++
	}
	if userIDStr != "" {
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "用户ID格式错误"})
			return
		}
		query += " AND a.user_id = $" + strconv.Itoa(argIdx)
		countQuery += " AND a.user_id = $" + strconv.Itoa(argIdx)
		args = append(args, userID)
		argIdx++
	}

	var total int
	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	db.QueryRow(countQuery, countArgs...).Scan(&total)

	query += " ORDER BY a.id DESC LIMIT $" + strconv.Itoa(argIdx) + " OFFSET $" + strconv.Itoa(argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var createdAt time.Time
		if err := rows.Scan(&a.ID, &a.UserID, &a.Username, &a.Category, &a.Reason, &a.RiskScore, &createdAt); err != nil {
			continue
		}
		a.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
		alerts = append(alerts, a)
	}

	if alerts == nil {
		alerts = []Alert{}
	}

	totalPages := (total + pageSize - 1) / pageSize
	c.JSON(http.StatusOK, gin.H{
		"alerts":     alerts,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": totalPages,
	})
}

// HandleGetHighRiskUsers 获取高风险用户列表（风险总分达到阈值）
func HandleGetHighRiskUsers(c *gin.Context, db *sql.DB) {
	threshold := detect.HighRiskThreshold
	if t := c.Query("threshold"); t != "" {
		parsed, err := strconv.Atoi(t)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "阈值格式错误"})
			return
		}
		threshold = parsed
	}

	store := detect.NewSQLStore(db)
	users, err := store.HighRisk(threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	if users == nil {
		users = []detect.UserRisk{}
	}

	c.JSON(http.StatusOK, gin.H{
		"threshold": threshold,
		"users":     users,
	})
}

// HandleGetUserRisk 获取单个用户的风险总分与告警明细
func HandleGetUserRisk(c *gin.Context, db *sql.DB) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "用户ID格式错误"})
		return
	}

	store := detect.NewSQLStore(db)
	total, err := store.TotalRisk(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}

	rows, err := db.Query(`
		SELECT id, category, reason, risk_score, created_at
		FROM alerts WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var createdAt time.Time
		if err := rows.Scan(&a.ID, &a.Category, &a.Reason, &a.RiskScore, &createdAt); err != nil {
			continue
		}
		a.UserID = userID
		a.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
		alerts = append(alerts, a)
	}
	if alerts == nil {
		alerts = []Alert{}
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    userID,
		"totalRisk": total,
		"highRisk":  total >= detect.HighRiskThreshold,
		"alerts":    alerts,
	})
}
