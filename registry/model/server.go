package model

import (
	"strconv"
	"strings"
)

// LogPolicy is the heuristic two-way classification of a relay's free-text
// logging policy. The upstream feed provides no structured field for this,
// only operator-supplied prose, so the classification is a substring match
// and nothing stronger.
type LogPolicy string

const (
	LogPolicyLogs   LogPolicy = "logs"
	LogPolicyNoLogs LogPolicy = "no-logs"
)

// ServerRecord is one relay entry from the upstream feed.
//
// Numeric-looking fields that the upstream does not guarantee to format as
// numbers (ping, total traffic) are kept as strings; consumers go through
// PermissiveAtoi when they need a number.
type ServerRecord struct {
	Hostname           string `json:"hostname"`
	Address            string `json:"address"`
	QualityScore       int64  `json:"qualityScore"`
	PingMillis         string `json:"pingMillis"`
	SpeedBitsPerSecond int64  `json:"speedBitsPerSecond"`
	CountryName        string `json:"countryName"`
	CountryCode        string `json:"countryCode"`
	ActiveSessionCount int64  `json:"activeSessionCount"`
	UptimeSeconds      int64  `json:"uptimeSeconds"`
	TotalUsers         int64  `json:"totalUsers"`
	TotalTrafficBytes  string `json:"totalTrafficBytes"`
	LogPolicyRaw       string `json:"logPolicy"`
	Operator           string `json:"operator"`
	Message            string `json:"message"`
	ProfileBlob        string `json:"profileBlob"`
}

// LogPolicyClass classifies the raw log-policy text.
func (r *ServerRecord) LogPolicyClass() LogPolicy {
	return ClassifyLogPolicy(r.LogPolicyRaw)
}

// ClassifyLogPolicy maps operator-supplied policy prose to a two-way class.
// "2weeks", "permanent" and anything else mentioning logging counts as
// "logs"; only an explicit "no log" marker counts as "no-logs".
func ClassifyLogPolicy(raw string) LogPolicy {
	lowered := strings.ToLower(raw)
	if strings.Contains(lowered, "no log") || strings.Contains(lowered, "nolog") {
		return LogPolicyNoLogs
	}
	return LogPolicyLogs
}

// PermissiveAtoi converts an upstream-supplied numeric string to an int64,
// yielding 0 when the field is empty or garbled. The feed routinely carries
// "-" and truncated digits in numeric columns; treating those as 0 keeps
// ingestion best-effort instead of failing whole records.
func PermissiveAtoi(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
