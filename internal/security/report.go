package security

import "time"

// Finding codes reported by BuildReport.
const (
	FindingFamilyClaimDisabled = "family_claim_disabled"
	FindingLockoutDisabled     = "lockout_disabled"
	FindingNoAbsoluteLifetime  = "no_absolute_lifetime"
	FindingLongRefreshTTL      = "refresh_ttl_long"
	FindingLongAccessTTL       = "access_ttl_long"
	FindingLargeLeeway         = "leeway_large"
	FindingUnboundedFamilies   = "families_unbounded"
	FindingJWTOnlyLongAccess   = "jwt_only_long_access"
)

type Report struct {
	ProductionMode        bool
	SigningAlgorithm      string
	StrictValidation      bool
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	AbsoluteLifetime      time.Duration
	ReuseAttribution      bool
	LockoutActive         bool
	LockoutThreshold      int
	LockoutWindow         time.Duration
	IPLockoutActive       bool
	RefreshThrottleActive bool
	FamilyCapActive       bool
	RevokeAllOnReuse      bool
	Findings              []string
}

type ReportInput struct {
	ProductionMode     bool
	SigningAlgorithm   string
	StrictValidation   bool
	AccessTTL          time.Duration
	Leeway             time.Duration
	RefreshTTL         time.Duration
	AbsoluteLifetime   time.Duration
	EmbedFamilyClaim   bool
	LockoutEnabled     bool
	LockoutThreshold   int
	LockoutWindow      time.Duration
	IPThreshold        int
	EnableThrottle     bool
	MaxFamiliesPerUser int
	RevokeAllOnReuse   bool
}

// BuildReport summarizes input and lists findings worth an operator's
// attention. Findings are advisory; Config.Validate decides what is fatal.
func BuildReport(input ReportInput) Report {
	lockout := input.LockoutEnabled && input.LockoutThreshold > 0 && input.LockoutWindow > 0

	r := Report{
		ProductionMode:        input.ProductionMode,
		SigningAlgorithm:      input.SigningAlgorithm,
		StrictValidation:      input.StrictValidation,
		AccessTTL:             input.AccessTTL,
		RefreshTTL:            input.RefreshTTL,
		AbsoluteLifetime:      input.AbsoluteLifetime,
		ReuseAttribution:      input.EmbedFamilyClaim,
		LockoutActive:         lockout,
		LockoutThreshold:      input.LockoutThreshold,
		LockoutWindow:         input.LockoutWindow,
		IPLockoutActive:       lockout && input.IPThreshold > 0,
		RefreshThrottleActive: input.EnableThrottle,
		FamilyCapActive:       input.MaxFamiliesPerUser > 0,
		RevokeAllOnReuse:      input.RevokeAllOnReuse,
	}

	if !input.EmbedFamilyClaim {
		r.Findings = append(r.Findings, FindingFamilyClaimDisabled)
	}
	if !lockout {
		r.Findings = append(r.Findings, FindingLockoutDisabled)
	}
	if input.AbsoluteLifetime == 0 {
		r.Findings = append(r.Findings, FindingNoAbsoluteLifetime)
	}
	if input.RefreshTTL > 30*24*time.Hour {
		r.Findings = append(r.Findings, FindingLongRefreshTTL)
	}
	if input.AccessTTL > 10*time.Minute {
		r.Findings = append(r.Findings, FindingLongAccessTTL)
		if !input.StrictValidation {
			r.Findings = append(r.Findings, FindingJWTOnlyLongAccess)
		}
	}
	if input.Leeway > 30*time.Second {
		r.Findings = append(r.Findings, FindingLargeLeeway)
	}
	if input.MaxFamiliesPerUser == 0 {
		r.Findings = append(r.Findings, FindingUnboundedFamilies)
	}
	return r
}

// Has reports whether code is among the findings.
func (r Report) Has(code string) bool {
	for _, f := range r.Findings {
		if f == code {
			return true
		}
	}
	return false
}
