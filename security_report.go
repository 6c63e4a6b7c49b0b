package orgauth

import "github.com/MrEthical07/orgauth/internal/security"

// SecurityReport summarizes which defenses the engine runs with and lists
// settings that fall below common baselines.
type SecurityReport = security.Report

// SecurityReport returns the posture of the running configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:   string(cfg.Ticket.SigningMethod),
		SigningKeyLength:   len(cfg.Ticket.PrivateKey),
		TicketTTL:          cfg.Ticket.TTL,
		AccessTTL:          cfg.Session.AccessTTL,
		RefreshTTL:         cfg.Session.RefreshTTL,
		RotationInterval:   cfg.Session.RotationInterval,
		MaxSessionsPerUser: cfg.Session.MaxActivePerUser,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		MaxAttemptsPerIdentifier: cfg.SignIn.MaxAttemptsPerIdentifier,
		MaxAttemptsPerIP:         cfg.SignIn.MaxAttemptsPerIP,
		LocalLimiterEnabled:      cfg.SignIn.Local.Enabled,
		LockoutEnabled:           cfg.SignIn.LockoutEnabled,
		LockoutThreshold:         cfg.SignIn.LockoutThreshold,
		MFAMaxAttempts:           cfg.MFA.MaxAttempts,
		IPPolicy:                 cfg.Policy.IPPolicy,
		AuditEnabled:             cfg.Audit.Enabled,
		AuditDropIfFull:          cfg.Audit.DropIfFull,
		CacheEnabled:             cfg.Cache.Enabled,
		CacheTTL:                 cfg.Cache.TTL,
	})
}
