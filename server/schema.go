package main

import (
	"database/sql"
	"log"
)

// ensureSchema 建表（幂等），首次运行时写入示例题目
func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'active',
			last_login_ip TEXT,
			last_login_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL,
			flag TEXT NOT NULL,
			points INTEGER NOT NULL
		)`,
		// submitted_at 为业务时间字符串而非数据库时间类型，
		// 检测引擎读取后自行解析
		`CREATE TABLE IF NOT EXISTS submissions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			challenge_id BIGINT NOT NULL,
			submitted_at TEXT NOT NULL,
			ip_address TEXT,
			device TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			category TEXT NOT NULL,
			reason TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS system_logs (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			level TEXT NOT NULL,
			user_id BIGINT,
			challenge_id BIGINT,
			ip_address TEXT,
			message TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_challenge ON submissions (challenge_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_category ON alerts (user_id, category)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return seedChallenges(db)
}

// seedChallenges 题库为空时写入示例题目
func seedChallenges(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM challenges`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := []struct {
		name        string
		description string
		difficulty  string
		flag        string
		points      int
	}{
		{"Web Exploitation", "Find SQL injection vulnerability in the login form", "Medium", "flag{sql}", 70},
		{"Password Cracking", "Guess the weak password used by the admin", "Easy", "flag{password123}", 40},
		{"Cryptography", "Decode the encrypted message to find the hidden flag", "Hard", "flag{decrypt}", 90},
		{"Network Analysis", "Analyze packet data to find suspicious activity", "Medium", "flag{packet}", 60},
		{"OSINT Investigation", "Search online information to find the hidden clue", "Easy", "flag{osint}", 50},
	}

	for _, ch := range seed {
		if _, err := db.Exec(`INSERT INTO challenges (name, description, difficulty, flag, points) VALUES ($1, $2, $3, $4, $5)`,
			ch.name, ch.description, ch.difficulty, ch.flag, ch.points); err != nil {
			return err
		}
	}
	log.Printf("[schema] Seeded %d sample challenges", len(seed))
	return nil
}
