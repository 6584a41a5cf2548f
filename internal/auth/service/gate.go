package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/idx"
	"github.com/attendgrid/sessiond/pkg/slogx"
	"golang.org/x/time/rate"
)

// defaultRequiredHeaders must be present on every outgoing response.
// The middleware sets them; the gate verifies nothing stripped them.
var defaultRequiredHeaders = []string{
	"X-Content-Type-Options",
	"X-Frame-Options",
	"X-XSS-Protection",
	"Content-Security-Policy",
}

// defaultInputPatterns is a denylist of script-injection markers checked
// against untrusted text fields. Case-insensitive.
var defaultInputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)document\.`),
	regexp.MustCompile(`(?i)window\.`),
}

// CompileInputPatterns compiles a configured denylist for ValidateInput.
// Every pattern is matched case-insensitively.
func CompileInputPatterns(exprs []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		p, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("compile input pattern %q: %w", expr, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// SecurityGate performs cross-cutting security checks and records every
// outcome to the audit trail. Auditing is best-effort: a failed audit
// write is logged and swallowed, it never turns a passing check into a
// failure.
type SecurityGate struct {
	Store store.Store

	// RequiredHeaders and InputPatterns replace the built-in policy
	// lists when set; empty means the defaults.
	RequiredHeaders []string
	InputPatterns   []*regexp.Regexp

	// RatePerMinute and RateBurst bound how often a single client may
	// pass CheckRateLimit.
	RatePerMinute int
	RateBurst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (g *SecurityGate) requiredHeaders() []string {
	if len(g.RequiredHeaders) > 0 {
		return g.RequiredHeaders
	}
	return defaultRequiredHeaders
}

func (g *SecurityGate) inputPatterns() []*regexp.Regexp {
	if len(g.InputPatterns) > 0 {
		return g.InputPatterns
	}
	return defaultInputPatterns
}

// ValidateResponseHeaders reports whether the response carries every
// required security header. Each missing header is audited individually,
// so one pass over a stripped response names everything that is gone.
func (g *SecurityGate) ValidateResponseHeaders(ctx context.Context, h http.Header) bool {
	ok := true
	for _, name := range g.requiredHeaders() {
		if h.Get(name) == "" {
			g.Audit(ctx, domain.AuditEvent{
				Type:    domain.AuditMissingSecurityHeader,
				Details: fmt.Sprintf("missing header: %s", name),
			})
			ok = false
		}
	}
	return ok
}

// ValidateInput reports whether untrusted text is free of known
// script-injection markers. A hit is audited with the pattern that
// matched, never the input itself.
func (g *SecurityGate) ValidateInput(ctx context.Context, input string) bool {
	for _, p := range g.inputPatterns() {
		if p.MatchString(input) {
			g.Audit(ctx, domain.AuditEvent{
				Type:    domain.AuditMaliciousInput,
				Details: fmt.Sprintf("pattern detected: %s", p.String()),
			})
			return false
		}
	}
	return true
}

// CheckRateLimit enforces a per-client token bucket. Every check is
// audited; denials additionally get their own event and ErrRateLimited.
func (g *SecurityGate) CheckRateLimit(ctx context.Context, clientID string) error {
	g.Audit(ctx, domain.AuditEvent{
		Type:    domain.AuditRateLimitCheck,
		Details: fmt.Sprintf("checking rate limit for client: %s", clientID),
	})

	if !g.limiterFor(clientID).Allow() {
		g.Audit(ctx, domain.AuditEvent{
			Type:    domain.AuditRateLimitExceeded,
			Details: fmt.Sprintf("rate limit exceeded for client: %s", clientID),
		})
		return ErrRateLimited
	}
	return nil
}

func (g *SecurityGate) limiterFor(clientID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limiters == nil {
		g.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := g.limiters[clientID]
	if !ok {
		perMinute := g.RatePerMinute
		if perMinute <= 0 {
			perMinute = 60
		}
		burst := g.RateBurst
		if burst <= 0 {
			burst = perMinute
		}
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
		g.limiters[clientID] = l
	}
	return l
}

// Audit appends one event to the security trail. The event ID and
// timestamp are filled in here. Failures are logged and dropped: the
// audit trail observes the system, it must never take it down.
func (g *SecurityGate) Audit(ctx context.Context, ev domain.AuditEvent) {
	if ev.ID == "" {
		ev.ID = idx.New().String()
	}

	if err := g.Store.AuditEvents().AppendAuditEvent(ctx, ev); err != nil {
		slogx.FromContext(ctx).Error("audit append failed",
			slog.String("event_type", ev.Type),
			slog.Any("error", err),
		)
	}
}

// RecentEvents exposes the audit trail for the admin surface.
func (g *SecurityGate) RecentEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return g.Store.AuditEvents().ListRecentAuditEvents(ctx, limit)
}
