package security

import (
	"fmt"
	"time"
)

// Baselines below which a warning is reported.
const (
	minArgonMemoryKB  = 19 * 1024
	minHMACKeyLength  = 32
	maxSessionsPerUser = 10
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarizes the security posture of an engine configuration.
type Report struct {
	SigningAlgorithm   string
	TicketTTL          time.Duration
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RotationInterval   time.Duration
	MaxSessionsPerUser int
	Argon2             PasswordReport
	RateLimitingActive bool
	LocalLimiterActive bool
	LockoutActive      bool
	MFAMaxAttempts     int
	IPPolicy           string
	AuditActive        bool
	CacheTTL           time.Duration
	Warnings           []string
}

type ReportInput struct {
	SigningAlgorithm         string
	SigningKeyLength         int
	TicketTTL                time.Duration
	AccessTTL                time.Duration
	RefreshTTL               time.Duration
	RotationInterval         time.Duration
	MaxSessionsPerUser       int
	Password                 PasswordReport
	MaxAttemptsPerIdentifier int
	MaxAttemptsPerIP         int
	LocalLimiterEnabled      bool
	LockoutEnabled           bool
	LockoutThreshold         int
	MFAMaxAttempts           int
	IPPolicy                 string
	AuditEnabled             bool
	AuditDropIfFull          bool
	CacheEnabled             bool
	CacheTTL                 time.Duration
}

func BuildReport(input ReportInput) Report {
	rateLimiting := input.MaxAttemptsPerIdentifier > 0 || input.MaxAttemptsPerIP > 0
	lockout := input.LockoutEnabled && input.LockoutThreshold > 0

	r := Report{
		SigningAlgorithm:   input.SigningAlgorithm,
		TicketTTL:          input.TicketTTL,
		AccessTTL:          input.AccessTTL,
		RefreshTTL:         input.RefreshTTL,
		RotationInterval:   input.RotationInterval,
		MaxSessionsPerUser: input.MaxSessionsPerUser,
		Argon2:             input.Password,
		RateLimitingActive: rateLimiting,
		LocalLimiterActive: input.LocalLimiterEnabled,
		LockoutActive:      lockout,
		MFAMaxAttempts:     input.MFAMaxAttempts,
		IPPolicy:           input.IPPolicy,
		AuditActive:        input.AuditEnabled,
	}
	if input.CacheEnabled {
		r.CacheTTL = input.CacheTTL
	}

	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	}
	if input.Password.Memory < minArgonMemoryKB {
		warn("argon2 memory %d KiB is below %d KiB", input.Password.Memory, minArgonMemoryKB)
	}
	if input.SigningAlgorithm == "hs256" && input.SigningKeyLength < minHMACKeyLength {
		warn("hs256 ticket key is %d bytes, want at least %d", input.SigningKeyLength, minHMACKeyLength)
	}
	if !rateLimiting {
		warn("sign-in rate limiting is disabled")
	}
	if !lockout {
		warn("account lockout is disabled")
	}
	if !input.AuditEnabled {
		warn("audit trail is disabled")
	} else if input.AuditDropIfFull {
		warn("audit events are dropped when the buffer is full")
	}
	if input.MaxSessionsPerUser > maxSessionsPerUser {
		warn("session cap of %d per user is unusually high", input.MaxSessionsPerUser)
	}
	return r
}
