package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/config"
	"talkingrock/internal/ratelimit"
)

// Gateway verdicts
const (
	GatewayPassed             = "passed"
	GatewayRateLimited        = "rate_limited"
	GatewayRequestTooLarge    = "request_too_large"
	GatewayInputTooLong       = "input_too_long"
	GatewayInvalidContentType = "invalid_content_type"
	GatewayMissingMessage     = "missing_message"
)

// GatewayResult is the outcome of network-gateway validation
type GatewayResult struct {
	Status     string
	Passed     bool
	IPHash     string
	RetryAfter float64 // seconds, for rate-limit verdicts
}

// GatewayRequest is the raw request envelope as seen by the gateway
type GatewayRequest struct {
	RemoteAddr    string
	XForwardedFor string
	XRealIP       string
	ContentType   string
	BodySize      int
	Message       string
}

// Gateway is the first line of defense: size, content type, client-ip
// resolution and rate limits, before any content is inspected.
type Gateway struct {
	maxRequestSize int
	maxInputLength int
	ipSalt         string
	limiter        ratelimit.Limiter
	trustedNets    []*net.IPNet
}

// NewGateway creates the network gateway
func NewGateway(cfg *config.Config, limiter ratelimit.Limiter) *Gateway {
	return &Gateway{
		maxRequestSize: cfg.Security.MaxRequestSize,
		maxInputLength: cfg.Security.MaxInputLength,
		ipSalt:         cfg.Gateway.IPSalt,
		limiter:        limiter,
		trustedNets:    parseTrustedProxies(cfg.Gateway.TrustedProxies),
	}
}

// Validate checks the raw envelope and rate limits. The returned IPHash is
// set on every path so refusals can be logged.
func (g *Gateway) Validate(ctx context.Context, req GatewayRequest) GatewayResult {
	clientIP := g.ResolveClientIP(req.RemoteAddr, req.XForwardedFor, req.XRealIP)
	ipHash := g.HashIP(clientIP)

	if req.ContentType != "" {
		base := strings.ToLower(strings.TrimSpace(strings.Split(req.ContentType, ";")[0]))
		if base != "application/json" {
			return GatewayResult{Status: GatewayInvalidContentType, IPHash: ipHash}
		}
	}

	if req.BodySize > g.maxRequestSize {
		return GatewayResult{Status: GatewayRequestTooLarge, IPHash: ipHash}
	}

	if len([]rune(req.Message)) > g.maxInputLength {
		return GatewayResult{Status: GatewayInputTooLong, IPHash: ipHash}
	}

	if strings.TrimSpace(req.Message) == "" {
		return GatewayResult{Status: GatewayMissingMessage, IPHash: ipHash}
	}

	result, err := g.limiter.Allow(ctx, ipHash)
	if err != nil {
		// A broken limiter backend must not open the gate
		log.Error().Err(err).Msg("rate limiter failed")
		return GatewayResult{Status: GatewayRateLimited, IPHash: ipHash}
	}
	if result.Blocked() {
		log.Warn().
			Str("ip_hash", ipHash).
			Str("limit", string(result.Status)).
			Int("current", result.Current).
			Msg("rate limit exceeded")
		return GatewayResult{
			Status:     GatewayRateLimited,
			IPHash:     ipHash,
			RetryAfter: result.RetryAfter.Seconds(),
		}
	}

	return GatewayResult{Status: GatewayPassed, Passed: true, IPHash: ipHash}
}

// ResolveClientIP returns the client ip. Forwarded headers are honored
// only when the socket peer is a trusted proxy; otherwise the peer address
// wins, so a direct client cannot spoof its identity with a header.
func (g *Gateway) ResolveClientIP(remoteAddr, xForwardedFor, xRealIP string) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	}

	if !g.isTrustedProxy(peer) {
		return peer
	}

	if xForwardedFor != "" {
		// rightmost address not added by our own proxy chain
		parts := strings.Split(xForwardedFor, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			candidate := strings.TrimSpace(parts[i])
			if candidate == "" {
				continue
			}
			if !g.isTrustedProxy(candidate) {
				return candidate
			}
		}
	}

	if xRealIP != "" {
		return strings.TrimSpace(xRealIP)
	}

	return peer
}

// HashIP returns the salted hash used as the only persistent source id
func (g *Gateway) HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + g.ipSalt))
	return hex.EncodeToString(sum[:])[:16]
}

func (g *Gateway) isTrustedProxy(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range g.trustedNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func parseTrustedProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			log.Warn().Str("proxy", entry).Msg("invalid trusted proxy entry, ignoring")
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}
