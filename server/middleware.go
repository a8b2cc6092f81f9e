package main

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// authMiddleware JWT认证中间件（仅超级管理员）
func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 优先从Authorization头获取token，如果没有则从查询参数获取（用于文件下载）
		authHeader := c.GetHeader("Authorization")
		var tokenString string
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			// 从查询参数获取token（用于Excel导出等场景）
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			c.Abort()
			return
		}
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_TOKEN"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_CLAIMS"})
			c.Abort()
			return
		}

		// 检查是否为超级管理员
		role, _ := claims["role"].(string)
		if role != "super" {
			c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN"})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("role", role)
		c.Next()
	}
}

// userAuthMiddleware JWT认证中间件（所有登录用户）
func userAuthMiddleware(secret []byte, db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_TOKEN"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_CLAIMS"})
			c.Abort()
			return
		}

		role, _ := claims["role"].(string)
		// 从 claims 中提取用户ID
		var userID int64
		if sub, ok := claims["sub"].(float64); ok {
			userID = int64(sub)
		}

		// 被封禁的用户立即失效，不等token过期
		var status string
		err = db.QueryRow(`SELECT COALESCE(status, 'active') FROM users WHERE id = $1`, userID).Scan(&status)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "USER_NOT_FOUND"})
			c.Abort()
			return
		}
		if status == "banned" {
			c.JSON(http.StatusForbidden, gin.H{"error": "ACCOUNT_DISABLED", "message": "该账号不可用，请联系管理员"})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("role", role)
		c.Set("userID", userID)
		c.Next()
	}
}
