package tokenauth

import "github.com/abrahamahn/abe-stack-sub006/internal/security"

// SecurityReport summarizes the running configuration's posture.
type SecurityReport = security.Report

// SecurityReport returns the posture of the Engine's configuration together
// with advisory findings such as a disabled family claim or lockout.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return SecurityReportFor(e.config)
}

// SecurityReportFor reports on cfg without building an Engine.
func SecurityReportFor(cfg Config) SecurityReport {
	return security.BuildReport(security.ReportInput{
		ProductionMode:     cfg.Security.ProductionMode,
		SigningAlgorithm:   cfg.JWT.SigningMethod,
		StrictValidation:   cfg.ValidationMode == ModeStrict,
		AccessTTL:          cfg.JWT.AccessTTL,
		Leeway:             cfg.JWT.Leeway,
		RefreshTTL:         cfg.Refresh.TTL,
		AbsoluteLifetime:   cfg.Refresh.AbsoluteLifetime,
		EmbedFamilyClaim:   cfg.Refresh.EmbedFamilyClaim,
		LockoutEnabled:     cfg.Lockout.Enabled,
		LockoutThreshold:   cfg.Lockout.Threshold,
		LockoutWindow:      cfg.Lockout.Window,
		IPThreshold:        cfg.Lockout.IPThreshold,
		EnableThrottle:     cfg.Refresh.EnableThrottle,
		MaxFamiliesPerUser: cfg.Refresh.MaxFamiliesPerUser,
		RevokeAllOnReuse:   cfg.Security.RevokeAllOnReuse,
	})
}
