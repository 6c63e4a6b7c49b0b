package orgauth

import (
	"context"

	"github.com/MrEthical07/orgauth/audit"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type fingerprintContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP throttling, the IP policy stage, and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceFingerprint attaches a device fingerprint to ctx. It is recorded
// on sessions created under ctx.
func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintContextKey{}, fingerprint)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func fingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	fp, _ := ctx.Value(fingerprintContextKey{}).(string)
	return fp
}

// withRequestInfo fills missing client metadata from ctx and makes it visible
// to audit events emitted under the returned context.
func withRequestInfo(ctx context.Context, ip, userAgent string) (context.Context, string, string) {
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}
	info := audit.RequestInfoFrom(ctx)
	if info.IPAddress == "" {
		info.IPAddress = ip
	}
	if info.UserAgent == "" {
		info.UserAgent = userAgent
	}
	return audit.WithRequestInfo(ctx, info), ip, userAgent
}
