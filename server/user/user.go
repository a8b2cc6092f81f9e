package user

import (
	"database/sql"
	"log"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"flagwatch/server/logs"
)

// ProfileInfo 用户个人信息
type ProfileInfo struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	Role        string  `json:"role"`
	Status      string  `json:"status"`
	Score       int     `json:"score"`
	Solves      int     `json:"solves"`
	Rank        int     `json:"rank"`
	LastLoginIP *string `json:"lastLoginIp"`
	LastLoginAt *string `json:"lastLoginAt"`
	CreatedAt   string  `json:"createdAt"`
}

// UpdateProfileRequest 更新个人信息请求
type UpdateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// ValidatePasswordStrength 校验密码强度
func ValidatePasswordStrength(password string) (bool, string) {
	if len(password) < 8 {
		return false, "密码长度至少8位"
	}
	// 大写字母
	hasUpper := regexp.MustCompile(`[A-Z]`).MatchString(password)
	if !hasUpper {
		return false, "密码必须包含大写字母"
	}
	// 小写字母
	hasLower := regexp.MustCompile(`[a-z]`).MatchString(password)
	if !hasLower {
		return false, "密码必须包含小写字母"
	}
	// 数字
	hasDigit := regexp.MustCompile(`[0-9]`).MatchString(password)
	if !hasDigit {
		return false, "密码必须包含数字"
	}
	return true, ""
}

// HandleGetProfile 获取当前用户个人信息（含得分与排名）
func HandleGetProfile(c *gin.Context, db *sql.DB) {
	userID := c.GetInt64("userID")

	var p ProfileInfo
	var lastLoginIP, lastLoginAt sql.NullString

	err := db.QueryRow(`
		SELECT u.id, u.username, u.first_name, u.last_name, u.email, u.phone,
		       u.role, COALESCE(u.status, 'active'),
		       u.last_login_ip,
		       COALESCE(TO_CHAR(u.last_login_at, 'YYYY-MM-DD HH24:MI'), ''),
		       COALESCE(TO_CHAR(u.created_at, 'YYYY-MM-DD HH24:MI'), '')
		FROM users u
		WHERE u.id = $1`, userID).Scan(
		&p.ID, &p.Username, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.Role, &p.Status,
		&lastLoginIP, &lastLoginAt, &p.CreatedAt)

	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "USER_NOT_FOUND"})
		return
	}
	if err != nil {
		log.Printf("get profile error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	if lastLoginIP.Valid {
		p.LastLoginIP = &lastLoginIP.String
	}
	if lastLoginAt.Valid && lastLoginAt.String != "" {
		p.LastLoginAt = &lastLoginAt.String
	}

	// 得分与解题数
	db.QueryRow(`
		SELECT COALESCE(SUM(ch.points), 0), COUNT(s.id)
		FROM submissions s
		JOIN challenges ch ON ch.id = s.challenge_id
		WHERE s.user_id = $1`, userID).Scan(&p.Score, &p.Solves)

	// 排名：得分高于自己的用户数+1
	db.QueryRow(`
		SELECT COUNT(*) + 1 FROM (
			SELECT s.user_id, SUM(ch.points) as total
			FROM submissions s
			JOIN challenges ch ON ch.id = s.challenge_id
			JOIN users u ON u.id = s.user_id
			WHERE u.role = 'user' AND u.status != 'banned'
			GROUP BY s.user_id
			HAVING SUM(ch.points) > $1
		) AS better`, p.Score).Scan(&p.Rank)

	c.JSON(http.StatusOK, p)
}

// HandleUpdateProfile 更新个人信息
func HandleUpdateProfile(c *gin.Context, db *sql.DB) {
	userID := c.GetInt64("userID")

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST"})
		return
	}

	// 构建更新语句
	updates := ""
	args := []interface{}{}
	argIdx := 1
	add := func(column string, value string) {
		updates += column + " = $" + strconv.Itoa(argIdx) + ", "
		args = append(args, value)
		argIdx++
	}

	if req.FirstName != nil {
		add("first_name", *req.FirstName)
	}
	if req.LastName != nil {
		add("last_name", *req.LastName)
	}
	if req.Email != nil {
		add("email", *req.Email)
	}
	if req.Phone != nil {
		add("phone", *req.Phone)
	}

	if len(args) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "NO_UPDATES"})
		return
	}

	updates += "updated_at = NOW()"
	args = append(args, userID)

	query := "UPDATE users SET " + updates + " WHERE id = $" + strconv.Itoa(argIdx)
	if _, err := db.Exec(query, args...); err != nil {
		log.Printf("update profile error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "UPDATED"})
}

// HandleChangePassword 修改密码
func HandleChangePassword(c *gin.Context, db *sql.DB) {
	userID := c.GetInt64("userID")

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST"})
		return
	}

	// 验证密码强度
	if valid, msg := ValidatePasswordStrength(req.NewPassword); !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WEAK_PASSWORD", "message": msg})
		return
	}

	var currentHash string
	err := db.QueryRow(`SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&currentHash)
	if err != nil {
		log.Printf("get password hash error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	if req.OldPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "OLD_PASSWORD_REQUIRED"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(req.OldPassword)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WRONG_PASSWORD"})
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("generate password hash error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	_, err = db.Exec(`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, string(newHash), userID)
	if err != nil {
		log.Printf("update password error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	// 记录修改密码日志
	clientIP := c.ClientIP()
	logs.WriteLogSimple(db, logs.TypePasswordChange, logs.LevelInfo, userID, clientIP, "用户修改密码")

	c.JSON(http.StatusOK, gin.H{"message": "PASSWORD_CHANGED"})
}
