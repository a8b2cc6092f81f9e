package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"flagwatch/server/admin"
	"flagwatch/server/detect"
	"flagwatch/server/logs"
	"flagwatch/server/submission"
	"flagwatch/server/user"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := ensureSchema(db); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	// 命令行扫描模式：server scan / server ai-scan
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "scan":
			runScan(db, false)
			return
		case "ai-scan":
			runScan(db, true)
			return
		default:
			log.Fatalf("unknown command: %s", os.Args[1])
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	if err := ensureAdmin(db); err != nil {
		log.Fatalf("failed to ensure admin user: %v", err)
	}

	r := gin.Default()

	api := r.Group("/api")
	{
		api.POST("/register", func(c *gin.Context) {
			handleRegister(c, db)
		})
		api.POST("/login", func(c *gin.Context) {
			handleLogin(c, db, []byte(jwtSecret))
		})

		// 公开排行榜（无需认证）
		api.GET("/leaderboard", func(c *gin.Context) {
			submission.HandleGetLeaderboard(c, db)
		})

		// 需要登录的用户API
		userAPI := api.Group("")
		userAPI.Use(userAuthMiddleware([]byte(jwtSecret), db))
		{
			userAPI.GET("/challenges", func(c *gin.Context) {
				submission.HandleListChallenges(c, db)
			})
			userAPI.POST("/challenges/:challengeId/submit", func(c *gin.Context) {
				submission.HandleSubmitFlag(c, db)
			})
			userAPI.GET("/solves", func(c *gin.Context) {
				submission.HandleGetMySolves(c, db)
			})
			userAPI.POST("/violations", func(c *gin.Context) {
				handleReportViolation(c, db)
			})
			userAPI.GET("/profile", func(c *gin.Context) {
				user.HandleGetProfile(c, db)
			})
			userAPI.PUT("/profile", func(c *gin.Context) {
				user.HandleUpdateProfile(c, db)
			})
			userAPI.POST("/profile/password", func(c *gin.Context) {
				user.HandleChangePassword(c, db)
			})
		}

		// 管理员API
		adminAPI := api.Group("/admin")
		adminAPI.Use(authMiddleware([]byte(jwtSecret)))
		{
			adminAPI.GET("/overview", func(c *gin.Context) {
				admin.HandleAdminOverview(c, db)
			})

			// ========== 用户管理 ==========
			adminAPI.GET("/users", func(c *gin.Context) {
				admin.HandleListUsers(c, db)
			})
			adminAPI.POST("/users/:userId/ban", func(c *gin.Context) {
				admin.HandleBanUser(c, db)
			})
			adminAPI.POST("/users/:userId/unban", func(c *gin.Context) {
				admin.HandleUnbanUser(c, db)
			})

			// ========== 作弊检测 ==========
			adminAPI.GET("/alerts", func(c *gin.Context) {
				admin.HandleGetAlerts(c, db)
			})
			adminAPI.GET("/alerts/export", func(c *gin.Context) {
				admin.HandleExportAlerts(c, db)
			})
			adminAPI.GET("/alerts/ws", func(c *gin.Context) {
				admin.HandleAlertsWebSocket(c)
			})
			adminAPI.GET("/high-risk", func(c *gin.Context) {
				admin.HandleGetHighRiskUsers(c, db)
			})
			adminAPI.GET("/users/:userId/risk", func(c *gin.Context) {
				admin.HandleGetUserRisk(c, db)
			})
			adminAPI.POST("/detect/run", func(c *gin.Context) {
				admin.HandleRunDetection(c, db)
			})
			adminAPI.POST("/detect/anomaly", func(c *gin.Context) {
				admin.HandleRunAnomalyScan(c, db)
			})

			// ========== 系统日志 ==========
			adminAPI.GET("/logs", func(c *gin.Context) {
				logs.HandleGetLogs(c, db)
			})
			adminAPI.GET("/logs/ws", func(c *gin.Context) {
				logs.HandleLogsWebSocket(c)
			})
		}
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// runScan 命令行扫描：执行检测并打印报告
func runScan(db *sql.DB, anomaly bool) {
	engine := detect.NewEngine(detect.NewSQLStore(db))

	var report *detect.Report
	var err error
	if anomaly {
		report, err = engine.RunAnomalyScan()
	} else {
		report, err = engine.RunAll()
	}
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("marshal report: %v", err)
	}
	fmt.Println(string(out))
}
