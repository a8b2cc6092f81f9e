package admin

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"flagwatch/server/detect"
)

// HandleExportAlerts 导出告警与高风险用户为Excel（两个工作表）
func HandleExportAlerts(c *gin.Context, db *sql.DB) {
	category := c.Query("category")

	f := excelize.NewFile()
	defer f.Close()

	if err := writeAlertSheet(f, db, category); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}
	if err := writeHighRiskSheet(f, db); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "DB_ERROR"})
		return
	}

	filename := "alerts_" + time.Now().Format("20060102_150405") + ".xlsx"
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)

	if err := f.Write(c.Writer); err != nil {
		log.Printf("write excel error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WRITE_ERROR"})
		return
	}
}

// writeAlertSheet 写入告警明细工作表
func writeAlertSheet(f *excelize.File, db *sql.DB, category string) error {
	query := `
		SELECT a.id, a.user_id, COALESCE(u.username, ''), a.category, a.reason, a.risk_score, a.created_at
		FROM alerts a
		LEFT JOIN users u ON a.user_id = u.id`
	args := []interface{}{}
	if category != "" {
		query += " WHERE a.category = $1"
		args = append(args, category)
	}
	query += " ORDER BY a.id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	headers := []string{"告警ID", "用户ID", "用户名", "类别", "原因", "风险分", "产生时间"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue("Sheet1", cell, h)
	}

	rowIdx := 2
	for rows.Next() {
		var a Alert
		var createdAt time.Time
		if err := rows.Scan(&a.ID, &a.UserID, &a.Username, &a.Category, &a.Reason, &a.RiskScore, &createdAt); err != nil {
			continue
		}
		values := []interface{}{a.ID, a.UserID, a.Username, a.Category, a.Reason, a.RiskScore,
			createdAt.Format("2006-01-02 15:04:05")}
		for j, val := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, rowIdx)
			f.SetCellValue("Sheet1", cell, val)
		}
		rowIdx++
	}

	f.SetColWidth("Sheet1", "A", "B", 10)
	f.SetColWidth("Sheet1", "C", "C", 15)
	f.SetColWidth("Sheet1", "D", "D", 18)
	f.SetColWidth("Sheet1", "E", "E", 50)
	f.SetColWidth("Sheet1", "F", "F", 10)
	f.SetColWidth("Sheet1", "G", "G", 20)
	return rows.Err()
}

// writeHighRiskSheet 写入高风险用户工作表
func writeHighRiskSheet(f *excelize.File, db *sql.DB) error {
	rows, err := db.Query(`
		SELECT a.user_id, COALESCE(u.username, ''), SUM(a.risk_score) AS total_risk, COUNT(*) AS alert_count
		FROM alerts a
		LEFT JOIN users u ON a.user_id = u.id
		GROUP BY a.user_id, u.username
		HAVING SUM(a.risk_score) >= $1
		ORDER BY total_risk DESC, a.user_id ASC`, detect.HighRiskThreshold)
	if err != nil {
		return err
	}
	defer rows.Close()

	const sheet = "HighRisk"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"用户ID", "用户名", "风险总分", "告警条数"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	rowIdx := 2
	for rows.Next() {
		var userID int64
		var username string
		var totalRisk, alertCount int
		if err := rows.Scan(&userID, &username, &totalRisk, &alertCount); err != nil {
			continue
		}
		values := []interface{}{userID, username, totalRisk, alertCount}
		for j, val := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, rowIdx)
			f.SetCellValue(sheet, cell, val)
		}
		rowIdx++
	}

	f.SetColWidth(sheet, "A", "A", 10)
	f.SetColWidth(sheet, "B", "B", 15)
	f.SetColWidth(sheet, "C", "D", 12)
	return rows.Err()
}
