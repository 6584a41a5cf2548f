package domain

import "time"

// Audit event types recorded by the security gate and session flows.
const (
	AuditMissingSecurityHeader = "MISSING_SECURITY_HEADER"
	AuditMaliciousInput        = "MALICIOUS_INPUT_DETECTED"
	AuditRateLimitCheck        = "RATE_LIMIT_CHECK"
	AuditRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	AuditTokenReuseDetected    = "TOKEN_REUSE_DETECTED"
	AuditSessionsRevoked       = "ALL_SESSIONS_REVOKED"
	AuditTwoFactorExhausted    = "TWO_FACTOR_ATTEMPTS_EXHAUSTED"
	AuditLoginFailed           = "LOGIN_FAILED"
)

// AuditEvent is an append-only security log entry. Events are write-once
// and never mutated.
type AuditEvent struct {
	ID        string
	Type      string
	Details   string
	UserID    string // optional, empty when no user is involved
	CreatedAt time.Time
}
