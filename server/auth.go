package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"flagwatch/server/admin"
	"flagwatch/server/detect"
	"flagwatch/server/logs"
	"flagwatch/server/user"
)

// ensureAdmin 确保超级管理员账户存在（由环境变量控制）
func ensureAdmin(db *sql.DB) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")

	if username == "" || password == "" {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var existingID int64
	err = db.QueryRow(`SELECT id FROM users WHERE username = $1`, username).Scan(&existingID)
	if err == sql.ErrNoRows {
		var newID int64
		err = db.QueryRow(`INSERT INTO users (username, role, password_hash, status, created_at, updated_at)
			VALUES ($1, 'super', $2, 'active', NOW(), NOW()) RETURNING id`,
			username, string(hash)).Scan(&newID)
		if err != nil {
			return err
		}
		log.Printf("[ensureAdmin] Created super admin: %s (ID: %d)", username, newID)
		return nil
	}
	if err != nil {
		return err
	}

	// 用户已存在，更新为超管并更新密码
	_, err = db.Exec(`UPDATE users SET role = 'super', password_hash = $1, status = 'active', updated_at = NOW() WHERE id = $2`,
		string(hash), existingID)
	if err != nil {
		return err
	}
	log.Printf("[ensureAdmin] Updated super admin: %s (ID: %d)", username, existingID)
	return nil
}

// handleRegister 处理注册请求
func handleRegister(c *gin.Context, db *sql.DB) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST"})
		return
	}

	if valid, msg := user.ValidatePasswordStrength(req.Password); !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WEAK_PASSWORD", "message": msg})
		return
	}

	var existing int64
	err := db.QueryRow(`SELECT id FROM users WHERE username = $1`, req.Username).Scan(&existing)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "USERNAME_TAKEN", "message": "用户名已被占用"})
		return
	}
	if err != sql.ErrNoRows {
		log.Printf("query user error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("generate password hash error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	clientIP := c.ClientIP()
	var newID int64
	err = db.QueryRow(`INSERT INTO users (username, role, password_hash, first_name, last_name, email, phone, status, created_at, updated_at)
		VALUES ($1, 'user', $2, $3, $4, $5, $6, 'active', NOW(), NOW()) RETURNING id`,
		req.Username, string(hash), req.FirstName, req.LastName, req.Email, req.Phone).Scan(&newID)
	if err != nil {
		log.Printf("insert user error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}

	logs.WriteLogSimple(db, logs.TypeRegister, logs.LevelSuccess, newID, clientIP,
		req.Username+" 注册账号")

	c.JSON(http.StatusOK, gin.H{"message": "注册成功", "userId": newID})
}

// handleLogin 处理登录请求
func handleLogin(c *gin.Context, db *sql.DB, secret []byte) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST"})
		return
	}

	var (
		id           int64
		username     string
		role         string
		passwordHash string
		status       string
	)

	err := db.QueryRow(
		`SELECT id, username, role, password_hash, COALESCE(status, 'active') FROM users WHERE username = $1`,
		req.Username,
	).Scan(&id, &username, &role, &passwordHash, &status)

	clientIP := c.ClientIP()

	if err == sql.ErrNoRows {
		// 用户不存在，记录失败日志
		logs.WriteLog(db, logs.TypeLogin, logs.LevelError, nil, nil, clientIP,
			"登录失败: 用户 ["+req.Username+"] 不存在", nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_CREDENTIALS"})
		return
	}
	if err != nil {
		log.Printf("query user error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	// 检查用户是否被封禁
	if status == "banned" {
		logs.WriteLog(db, logs.TypeLogin, logs.LevelError, &id, nil, clientIP,
			"登录失败: 用户 ["+username+"] 已被封禁", nil)
		c.JSON(http.StatusForbidden, gin.H{"error": "ACCOUNT_DISABLED", "message": "该账号不可用，请联系管理员"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		// 密码错误，记录失败日志
		logs.WriteLog(db, logs.TypeLogin, logs.LevelError, &id, nil, clientIP,
			"登录失败: 用户 ["+username+"] 密码错误", nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_CREDENTIALS"})
		return
	}

	// 更新最后登录IP和时间
	db.Exec(`UPDATE users SET last_login_ip = $1, last_login_at = NOW(), updated_at = NOW() WHERE id = $2`, clientIP, id)

	// 登录后的即时检测：同IP多账号（仅普通用户，请求内同步执行）
	if role == "user" {
		if f, err := detect.CheckLoginIP(db, id, clientIP); err != nil {
			log.Printf("login IP check error: %v", err)
		} else if f != nil {
			admin.BroadcastAlert(db, *f)
		}
	}

	// 记录登录日志
	logs.WriteLogSimple(db, logs.TypeLogin, logs.LevelSuccess, id, clientIP, username+" 登录系统")

	token, err := generateJWT(User{
		ID:       id,
		Username: username,
		Role:     role,
	}, secret)
	if err != nil {
		log.Printf("generate token error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": User{
			ID:       id,
			Username: username,
			Role:     role,
		},
	})
}

// generateJWT 生成JWT令牌
func generateJWT(u User, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"sub":      u.ID,
		"username": u.Username,
		"role":     u.Role,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
