package main

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"flagwatch/server/admin"
	"flagwatch/server/detect"
	"flagwatch/server/logs"
)

type violationRequest struct {
	Type string `json:"type" binding:"required"`
}

// handleReportViolation 接收客户端监控脚本上报的考试违规行为，
// 写入告警并推送到管理员实时告警通道
func handleReportViolation(c *gin.Context, db *sql.DB) {
	userID := c.GetInt64("userID")

	var req violationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST"})
		return
	}

	f, err := detect.RecordViolation(db, userID, req.Type)
	if err != nil {
		log.Printf("record violation error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}

	logs.WriteLogSimple(db, logs.TypeCheating, logs.LevelWarning, userID, c.ClientIP(), f.Detail)
	admin.BroadcastAlert(db, *f)

	c.JSON(http.StatusOK, gin.H{"message": "RECORDED"})
}
