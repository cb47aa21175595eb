package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/permephem/null-sub005/internal/domain"
)

const (
	routeWarrantsSubmit     = "warrants:submit"
	routeAttestationsSubmit = "attestations:submit"
	routeDelegatedAnchor    = "ledger:delegated"
	routeStatusRead         = "status:read"
	routeLedgerRead         = "ledger:read"
	routeReceiptsRead       = "receipts:read"
)

// enforceRateLimit applies the fixed-window limit for one caller on one
// route. Submissions are keyed by the enterprise that signed them, every
// other route by client address.
func (s *Server) enforceRateLimit(c *gin.Context, routeID, caller string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	if caller == "" {
		caller = "ip:" + c.ClientIP()
	}
	key := fmt.Sprintf("enterprise:%s:endpoint:%s", caller, routeID)

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		requestLogger(c, s.log).WithError(err).Warn("rate limiter unavailable")
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision, s.now())
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, domain.CodeRateLimited, "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision, now time.Time) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(decision.ResetAt.Sub(now).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}

// enterpriseOf pulls enterpriseId out of a submitted document without
// validating anything else about it.
func enterpriseOf(raw []byte) string {
	var probe struct {
		EnterpriseID string `json:"enterpriseId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.EnterpriseID
}
