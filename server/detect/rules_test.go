package detect

import (
	"strings"
	"testing"
	"time"
)

// testSub 构造测试提交记录
func testSub(id, userID, challengeID int64, at, ip, device string) Submission {
	sub := Submission{
		ID:          id,
		UserID:      userID,
		ChallengeID: challengeID,
		RawTime:     at,
		IP:          ip,
		Device:      device,
	}
	sub.At, sub.TimeErr = parseSubmissionTime(at)
	return sub
}

func testSnapshot(users []User, challenges []Challenge, subs []Submission) *Snapshot {
	snap := &Snapshot{Users: users, Challenges: make(map[int64]Challenge), Submissions: subs}
	for _, c := range challenges {
		snap.Challenges[c.ID] = c
	}
	return snap
}

func findingsForUser(findings []Finding, userID int64) []Finding {
	var result []Finding
	for _, f := range findings {
		if f.UserID == userID {
			result = append(result, f)
		}
	}
	return result
}

func TestDetectMultiAccount(t *testing.T) {
	users := []User{
		{ID: 1, Username: "alice", LastLoginIP: "10.0.0.1"},
		{ID: 2, Username: "bob", LastLoginIP: "10.0.0.1"},
		{ID: 3, Username: "carol", LastLoginIP: "10.0.0.1"},
		{ID: 4, Username: "dave", LastLoginIP: "10.0.0.9"},
	}
	snap := testSnapshot(users, nil, nil)

	findings, err := DetectMultiAccount(snap)
	if err != nil {
		t.Fatalf("DetectMultiAccount() error = %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(findings))
	}
	for _, uid := range []int64{1, 2, 3} {
		fs := findingsForUser(findings, uid)
		if len(fs) != 1 {
			t.Errorf("user %d findings = %d, want 1", uid, len(fs))
			continue
		}
		if fs[0].Risk != RiskMultiAccount {
			t.Errorf("user %d risk = %d, want %d", uid, fs[0].Risk, RiskMultiAccount)
		}
		if !strings.Contains(fs[0].Detail, "3") {
			t.Errorf("detail %q should name the group size", fs[0].Detail)
		}
	}
	if fs := findingsForUser(findings, 4); len(fs) != 0 {
		t.Errorf("user with unique IP got %d findings, want 0", len(fs))
	}
}

func TestDetectMultiAccount_SkipsEmptyIP(t *testing.T) {
	users := []User{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: "bob"},
	}
	findings, err := DetectMultiAccount(testSnapshot(users, nil, nil))
	if err != nil {
		t.Fatalf("DetectMultiAccount() error = %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want 0 for users without login IP", len(findings))
	}
}

func TestDetectFlagSharing(t *testing.T) {
	tests := []struct {
		name  string
		subs  []Submission
		users []int64 // 预期被告警的用户
	}{
		{
			name: "20秒内不同用户命中",
			subs: []Submission{
				testSub(1, 1, 7, "2025-03-01 00:00:00", "10.0.0.1", "Chrome"),
				testSub(2, 2, 7, "2025-03-01 00:00:20", "10.0.0.2", "Firefox"),
			},
			users: []int64{1, 2},
		},
		{
			name: "40秒间隔不命中",
			subs: []Submission{
				testSub(1, 1, 7, "2025-03-01 00:00:00", "10.0.0.1", "Chrome"),
				testSub(2, 2, 7, "2025-03-01 00:00:40", "10.0.0.2", "Firefox"),
			},
		},
		{
			name: "同一用户不成对",
			subs: []Submission{
				testSub(1, 1, 7, "2025-03-01 00:00:00", "10.0.0.1", "Chrome"),
				testSub(2, 1, 7, "2025-03-01 00:00:05", "10.0.0.1", "Chrome"),
			},
		},
		{
			name: "不同题目不成对",
			subs: []Submission{
				testSub(1, 1, 7, "2025-03-01 00:00:00", "10.0.0.1", "Chrome"),
				testSub(2, 2, 8, "2025-03-01 00:00:10", "10.0.0.2", "Firefox"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := DetectFlagSharing(testSnapshot(nil, nil, tt.subs))
			if err != nil {
				t.Fatalf("DetectFlagSharing() error = %v", err)
			}
			if len(findings) != len(tt.users) {
				t.Fatalf("findings = %d, want %d", len(findings), len(tt.users))
			}
			for _, uid := range tt.users {
				fs := findingsForUser(findings, uid)
				if len(fs) != 1 {
					t.Fatalf("user %d findings = %d, want 1", uid, len(fs))
				}
				if fs[0].Risk != RiskFlagSharing {
					t.Errorf("risk = %d, want %d", fs[0].Risk, RiskFlagSharing)
				}
			}
		})
	}
}

func TestDetectFlagSharing_AllPairsNotJustAdjacent(t *testing.T) {
	// 三名用户25秒内各提交一次：三对组合全部命中，每人2条告警
	subs := []Submission{
		testSub(1, 1, 7, "2025-03-01 00:00:00", "10.0.0.1", "Chrome"),
		testSub(2, 2, 7, "2025-03-01 00:00:10", "10.0.0.2", "Firefox"),
		testSub(3, 3, 7, "2025-03-01 00:00:25", "10.0.0.3", "Safari"),
	}
	findings, err := DetectFlagSharing(testSnapshot(nil, nil, subs))
	if err != nil {
		t.Fatalf("DetectFlagSharing() error = %v", err)
	}
	if len(findings) != 6 {
		t.Fatalf("findings = %d, want 6 (3 pairs x 2 users)", len(findings))
	}
	for _, uid := range []int64{1, 2, 3} {
		if fs := findingsForUser(findings, uid); len(fs) != 2 {
			t.Errorf("user %d findings = %d, want 2", uid, len(fs))
		}
	}
}

func TestDetectFlagSharing_MalformedTimeFailsRule(t *testing.T) {
	subs := []Submission{
		testSub(1, 1, 7, "2025-03-01 00:00:00", "10.0.0.1", "Chrome"),
		testSub(2, 2, 7, "not-a-time", "10.0.0.2", "Firefox"),
	}
	findings, err := DetectFlagSharing(testSnapshot(nil, nil, subs))
	if err == nil {
		t.Fatal("expected data-integrity error for malformed time")
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want 0 when rule fails", len(findings))
	}
}

func TestDetectSpeedAnomaly(t *testing.T) {
	base := "2025-03-01 10:00:00"
	start, _ := time.ParseInLocation(TimeLayout, base, time.Local)
	at := func(offset time.Duration) string { return start.Add(offset).Format(TimeLayout) }

	// 用户1间隔 [30s, 45s, 20s]，平均31.7秒 < 60
	// 用户2间隔 [120s, 200s]，平均160秒
	subs := []Submission{
		testSub(1, 1, 1, at(0), "10.0.0.1", "Chrome"),
		testSub(2, 1, 2, at(30*time.Second), "10.0.0.1", "Chrome"),
		testSub(3, 1, 3, at(75*time.Second), "10.0.0.1", "Chrome"),
		testSub(4, 1, 4, at(95*time.Second), "10.0.0.1", "Chrome"),
		testSub(5, 2, 1, at(0), "10.0.0.2", "Firefox"),
		testSub(6, 2, 2, at(120*time.Second), "10.0.0.2", "Firefox"),
		testSub(7, 2, 3, at(320*time.Second), "10.0.0.2", "Firefox"),
	}
	findings, err := DetectSpeedAnomaly(testSnapshot(nil, nil, subs))
	if err != nil {
		t.Fatalf("DetectSpeedAnomaly() error = %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.UserID != 1 || f.Risk != RiskSpeedAnomaly {
		t.Errorf("finding = %+v, want user 1 risk %d", f, RiskSpeedAnomaly)
	}
	if !strings.Contains(f.Detail, "31.7") {
		t.Errorf("detail %q should carry the average with one decimal", f.Detail)
	}
}

func TestDetectSpeedAnomaly_SingleSubmissionIgnored(t *testing.T) {
	subs := []Submission{testSub(1, 1, 1, "2025-03-01 10:00:00", "10.0.0.1", "Chrome")}
	findings, err := DetectSpeedAnomaly(testSnapshot(nil, nil, subs))
	if err != nil {
		t.Fatalf("DetectSpeedAnomaly() error = %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want 0 for a single submission", len(findings))
	}
}

func TestDetectHardFirstSolve(t *testing.T) {
	challenges := []Challenge{
		{ID: 1, Name: "签到题", Difficulty: DifficultyEasy, Points: 40},
		{ID: 3, Name: "内核提权", Difficulty: DifficultyHard, Points: 90},
	}
	subs := []Submission{
		// 用户1首解Hard，用户2首解Easy后再解Hard
		testSub(1, 1, 3, "2025-03-01 09:00:00", "10.0.0.1", "Chrome"),
		testSub(2, 2, 1, "2025-03-01 09:05:00", "10.0.0.2", "Firefox"),
		testSub(3, 2, 3, "2025-03-01 11:00:00", "10.0.0.2", "Firefox"),
	}
	findings, err := DetectHardFirstSolve(testSnapshot(nil, challenges, subs))
	if err != nil {
		t.Fatalf("DetectHardFirstSolve() error = %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].UserID != 1 || findings[0].Risk != RiskHardFirstSolve {
		t.Errorf("finding = %+v, want user 1 risk %d", findings[0], RiskHardFirstSolve)
	}
}

func TestDetectHardFirstSolve_MissingChallengeSkipsRecord(t *testing.T) {
	challenges := []Challenge{
		{ID: 3, Name: "内核提权", Difficulty: DifficultyHard, Points: 90},
	}
	subs := []Submission{
		testSub(1, 1, 99, "2025-03-01 09:00:00", "10.0.0.1", "Chrome"), // 题目不存在
		testSub(2, 2, 3, "2025-03-01 09:05:00", "10.0.0.2", "Firefox"),
	}
	findings, err := DetectHardFirstSolve(testSnapshot(nil, challenges, subs))
	if err == nil {
		t.Fatal("expected error for missing challenge reference")
	}
	// 其余记录仍被处理
	if len(findings) != 1 || findings[0].UserID != 2 {
		t.Fatalf("findings = %+v, want exactly user 2", findings)
	}
}

func TestDetectDeviceSwitching(t *testing.T) {
	subs := []Submission{
		testSub(1, 1, 1, "2025-03-01 09:00:00", "10.0.0.1", "Chrome"),
		testSub(2, 1, 2, "2025-03-01 10:00:00", "10.0.0.1", "Firefox"),
		testSub(3, 1, 3, "2025-03-01 11:00:00", "10.0.0.1", "Safari"),
		testSub(4, 2, 1, "2025-03-01 09:00:00", "10.0.0.2", "Chrome"),
		testSub(5, 2, 2, "2025-03-01 10:00:00", "10.0.0.2", "Firefox"),
	}
	findings, err := DetectDeviceSwitching(testSnapshot(nil, nil, subs))
	if err != nil {
		t.Fatalf("DetectDeviceSwitching() error = %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1 (user 2 has only 2 devices)", len(findings))
	}
	if findings[0].UserID != 1 || findings[0].Risk != RiskDeviceSwitch {
		t.Errorf("finding = %+v, want user 1 risk %d", findings[0], RiskDeviceSwitch)
	}
	if !strings.Contains(findings[0].Detail, "3") {
		t.Errorf("detail %q should carry the device count", findings[0].Detail)
	}
}

func TestDetectBurst(t *testing.T) {
	tests := []struct {
		name       string
		times      []string
		wantAlert  bool
		wantDetail string
	}{
		{
			name:       "240秒内3次提交命中",
			times:      []string{"2025-03-01 00:00:00", "2025-03-01 00:02:00", "2025-03-01 00:04:00"},
			wantAlert:  true,
			wantDetail: "240",
		},
		{
			name:  "480秒跨度不命中",
			times: []string{"2025-03-01 00:00:00", "2025-03-01 00:03:00", "2025-03-01 00:08:00"},
		},
		{
			name:  "不足3次提交不命中",
			times: []string{"2025-03-01 00:00:00", "2025-03-01 00:00:30"},
		},
		{
			name: "多窗口命中也只告警一次",
			times: []string{
				"2025-03-01 00:00:00", "2025-03-01 00:01:00",
				"2025-03-01 00:02:00", "2025-03-01 00:03:00",
			},
			wantAlert:  true,
			wantDetail: "120",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subs []Submission
			for i, at := range tt.times {
				subs = append(subs, testSub(int64(i+1), 1, int64(i+1), at, "10.0.0.1", "Chrome"))
			}
			findings, err := DetectBurst(testSnapshot(nil, nil, subs))
			if err != nil {
				t.Fatalf("DetectBurst() error = %v", err)
			}
			if !tt.wantAlert {
				if len(findings) != 0 {
					t.Fatalf("findings = %d, want 0", len(findings))
				}
				return
			}
			if len(findings) != 1 {
				t.Fatalf("findings = %d, want exactly 1", len(findings))
			}
			if findings[0].Risk != RiskBurst {
				t.Errorf("risk = %d, want %d", findings[0].Risk, RiskBurst)
			}
			if !strings.Contains(findings[0].Detail, tt.wantDetail) {
				t.Errorf("detail %q should carry span %s", findings[0].Detail, tt.wantDetail)
			}
		})
	}
}

func TestDetectDeviceCollision(t *testing.T) {
	subs := []Submission{
		testSub(1, 1, 1, "2025-03-01 09:00:00", "10.0.0.1", "HeadlessChrome"),
		testSub(2, 2, 2, "2025-03-01 10:00:00", "10.0.0.2", "HeadlessChrome"),
		testSub(3, 3, 1, "2025-03-01 11:00:00", "10.0.0.3", "Firefox"),
	}
	findings, err := DetectDeviceCollision(testSnapshot(nil, nil, subs))
	if err != nil {
		t.Fatalf("DetectDeviceCollision() error = %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(findings))
	}
	for _, uid := range []int64{1, 2} {
		fs := findingsForUser(findings, uid)
		if len(fs) != 1 {
			t.Fatalf("user %d findings = %d, want 1", uid, len(fs))
		}
		if fs[0].Risk != RiskDeviceCollision {
			t.Errorf("risk = %d, want %d", fs[0].Risk, RiskDeviceCollision)
		}
		if !strings.Contains(fs[0].Detail, "2") {
			t.Errorf("detail %q should carry the collision count", fs[0].Detail)
		}
	}
	if fs := findingsForUser(findings, 3); len(fs) != 0 {
		t.Errorf("user 3 findings = %d, want 0", len(fs))
	}
}

func TestDetectSubmissionVolume(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		wantRisk int // 0 表示不应产出告警
	}{
		{name: "5次不计分", count: 5, wantRisk: 0},
		{name: "6次计20分", count: 6, wantRisk: RiskVolumeModerate},
		{name: "10次仍为20分", count: 10, wantRisk: RiskVolumeModerate},
		{name: "11次累计50分", count: 11, wantRisk: RiskVolumeModerate + RiskVolumeHeavy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subs []Submission
			for i := 0; i < tt.count; i++ {
				subs = append(subs, testSub(int64(i+1), 1, int64(i+1),
					"2025-03-01 09:00:00", "10.0.0.1", "Chrome"))
			}
			findings, err := DetectSubmissionVolume(testSnapshot(nil, nil, subs))
			if err != nil {
				t.Fatalf("DetectSubmissionVolume() error = %v", err)
			}
			if tt.wantRisk == 0 {
				if len(findings) != 0 {
					t.Fatalf("findings = %d, want 0", len(findings))
				}
				return
			}
			if len(findings) != 1 {
				t.Fatalf("findings = %d, want 1", len(findings))
			}
			if findings[0].Risk != tt.wantRisk {
				t.Errorf("risk = %d, want %d", findings[0].Risk, tt.wantRisk)
			}
		})
	}
}

func TestRulesEmptySnapshot(t *testing.T) {
	snap := testSnapshot(nil, nil, nil)
	rules := []struct {
		name string
		fn   RuleFunc
	}{
		{"multi_account", DetectMultiAccount},
		{"flag_sharing", DetectFlagSharing},
		{"speed_anomaly", DetectSpeedAnomaly},
		{"hard_first_solve", DetectHardFirstSolve},
		{"device_switching", DetectDeviceSwitching},
		{"burst_submission", DetectBurst},
		{"device_collision", DetectDeviceCollision},
		{"submission_volume", DetectSubmissionVolume},
	}
	for _, rule := range rules {
		findings, err := rule.fn(snap)
		if err != nil {
			t.Errorf("%s: error = %v, want nil on empty snapshot", rule.name, err)
		}
		if len(findings) != 0 {
			t.Errorf("%s: findings = %d, want 0", rule.name, len(findings))
		}
	}
}
