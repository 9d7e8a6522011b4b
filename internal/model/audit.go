package model

import "time"

// AuditLog captures one API call for the audit trail.
type AuditLog struct {
	ID           string                 `json:"id"`
	Account      string                 `json:"account,omitempty"`
	Method       string                 `json:"method"`
	Path         string                 `json:"path"`
	IP           string                 `json:"ip"`
	UserAgent    string                 `json:"user_agent"`
	RequestBody  string                 `json:"request_body,omitempty"`
	ResponseBody string                 `json:"response_body,omitempty"`
	StatusCode   int                    `json:"status_code"`
	LatencyMs    int64                  `json:"latency_ms"`
	Context      map[string]interface{} `json:"context,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
