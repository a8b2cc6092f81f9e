package admin

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"flagwatch/server/detect"
	"flagwatch/server/logs"
)

// WebSocket 连接管理
var (
	alertClients   = make(map[*websocket.Conn]bool)
	alertClientsMu sync.RWMutex
	alertUpgrader  = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

// HandleRunDetection 手动触发全量作弊扫描
func HandleRunDetection(c *gin.Context, db *sql.DB) {
	engine := detect.NewEngine(detect.NewSQLStore(db))
	report, err := engine.RunAll()
	if err != nil {
		log.Printf("detection run failed: %v", err)
		logs.WriteLog(db, logs.TypeDetection, logs.LevelError, nil, nil, c.ClientIP(),
			"作弊检测扫描失败: "+err.Error(), nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DETECTION_FAILED", "report": report})
		return
	}

	logs.WriteLog(db, logs.TypeDetection, logs.LevelSuccess, nil, nil, c.ClientIP(),
		"作弊检测扫描完成，新增"+strconv.Itoa(report.NewAlerts())+"条告警", report)

	BroadcastScanReport("detection", report)
	c.JSON(http.StatusOK, report)
}

// HandleRunAnomalyScan 手动触发提交量/异常模型扫描
func HandleRunAnomalyScan(c *gin.Context, db *sql.DB) {
	engine := detect.NewEngine(detect.NewSQLStore(db))
	report, err := engine.RunAnomalyScan()
	if err != nil {
		log.Printf("anomaly scan failed: %v", err)
		logs.WriteLog(db, logs.TypeDetection, logs.LevelError, nil, nil, c.ClientIP(),
			"异常行为扫描失败: "+err.Error(), nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DETECTION_FAILED", "report": report})
		return
	}

	logs.WriteLog(db, logs.TypeDetection, logs.LevelSuccess, nil, nil, c.ClientIP(),
		"异常行为扫描完成，新增"+strconv.Itoa(report.NewAlerts())+"条告警", report)

	BroadcastScanReport("anomaly", report)
	c.JSON(http.StatusOK, report)
}

// HandleAlertsWebSocket 告警实时推送 WebSocket 连接处理
func HandleAlertsWebSocket(c *gin.Context) {
	conn, err := alertUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// 注册连接
	alertClientsMu.Lock()
	alertClients[conn] = true
	alertClientsMu.Unlock()

	defer func() {
		alertClientsMu.Lock()
		delete(alertClients, conn)
		alertClientsMu.Unlock()
	}()

	// 保持连接
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// BroadcastAlert 广播单条告警到所有连接的管理员
// （登录/提交路径的即时检测命中时调用）
func BroadcastAlert(db *sql.DB, f detect.Finding) {
	var username string
	db.QueryRow(`SELECT username FROM users WHERE id = $1`, f.UserID).Scan(&username)

	data, err := json.Marshal(gin.H{
		"type": "alert",
		"alert": Alert{
			UserID:    f.UserID,
			Username:  username,
			Category:  f.Category,
			Reason:    f.Detail,
			RiskScore: f.Risk,
			CreatedAt: time.Now().Format("2006-01-02 15:04:05"),
		},
	})
	if err != nil {
		return
	}
	broadcastToAlertClients(data)
}

// BroadcastScanReport 广播扫描报告
func BroadcastScanReport(scanType string, report *detect.Report) {
	data, err := json.Marshal(gin.H{
		"type":     "scan_report",
		"scanType": scanType,
		"report":   report,
	})
	if err != nil {
		return
	}
	broadcastToAlertClients(data)
}

func broadcastToAlertClients(data []byte) {
	alertClientsMu.RLock()
	defer alertClientsMu.RUnlock()

	for conn := range alertClients {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
