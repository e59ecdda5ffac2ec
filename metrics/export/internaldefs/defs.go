package internaldefs

import (
	tokenauth "github.com/abrahamahn/abe-stack-sub006"
)

// CounterDef names one engine counter exported on its own.
type CounterDef struct {
	ID   tokenauth.MetricID
	Name string
	Help string
}

// Series is one label value of a LabeledDef and the counter behind it.
type Series struct {
	Value string
	ID    tokenauth.MetricID
}

// LabeledDef exports several engine counters as one metric split by a single
// label.
type LabeledDef struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   tokenauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokenauth.MetricLoginSuccess, Name: "sessions_login_success_total", Help: "Successful logins."},
	{ID: tokenauth.MetricLoginFailure, Name: "sessions_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: tokenauth.MetricLoginLocked, Name: "sessions_login_locked_total", Help: "Logins rejected by the lockout gate."},
	{ID: tokenauth.MetricLockoutUnavailable, Name: "sessions_lockout_unavailable_total", Help: "Logins refused because the attempt ledger could not be read."},
	{ID: tokenauth.MetricSessionIssued, Name: "sessions_session_issued_total", Help: "New token families started."},
	{ID: tokenauth.MetricFamilyEvicted, Name: "sessions_family_evicted_total", Help: "Families revoked by the per-user session limit."},
	{ID: tokenauth.MetricFamilyRevoked, Name: "sessions_family_revoked_total", Help: "Single families revoked for any reason."},
	{ID: tokenauth.MetricLogout, Name: "sessions_logout_total", Help: "Single-session logouts."},
	{ID: tokenauth.MetricLogoutAll, Name: "sessions_logout_all_total", Help: "Logout-all operations."},
	{ID: tokenauth.MetricLedgerWriteFailure, Name: "sessions_ledger_write_failure_total", Help: "Login attempts that could not be recorded."},
	{ID: tokenauth.MetricSecurityEventWriteFailure, Name: "sessions_security_event_write_failure_total", Help: "Security events that could not be persisted."},
	{ID: tokenauth.MetricStorageFailure, Name: "sessions_storage_failure_total", Help: "Operations that failed on the token store."},
	{ID: tokenauth.MetricRetentionPruned, Name: "sessions_retention_pruned_total", Help: "Rows removed by retention pruning."},
}

var LabeledDefs = []LabeledDef{
	{
		Name:  "sessions_rotations_total",
		Help:  "Refresh token presentations by rotation outcome.",
		Label: "outcome",
		Series: []Series{
			{Value: "rotated", ID: tokenauth.MetricRefreshSuccess},
			{Value: "not_found", ID: tokenauth.MetricRefreshNotFound},
			{Value: "family_revoked", ID: tokenauth.MetricRefreshFamilyRevoked},
			{Value: "reuse_detected", ID: tokenauth.MetricRefreshReuseDetected},
			{Value: "rate_limited", ID: tokenauth.MetricRefreshRateLimited},
		},
	},
	{
		Name:  "sessions_revocations_total",
		Help:  "Revocations that changed family state, by reason.",
		Label: "reason",
		Series: []Series{
			{Value: "reuse_detected", ID: tokenauth.MetricRevokedReuse},
			{Value: "logout", ID: tokenauth.MetricRevokedLogout},
			{Value: "logout_all", ID: tokenauth.MetricRevokedLogoutAll},
			{Value: "session_limit", ID: tokenauth.MetricRevokedSessionLimit},
			{Value: "admin", ID: tokenauth.MetricRevokedAdmin},
		},
	},
}

var HistogramDefs = []HistogramDef{
	{ID: tokenauth.MetricRotateLatency, Name: "sessions_rotate_latency_seconds", Help: "Refresh token rotation latency."},
}

// Audit dispatcher metrics. AuditEventsName is split by AuditResultLabel.
const (
	AuditEventsName        = "sessions_audit_events_total"
	AuditEventsHelp        = "Audit events by what the dispatcher did with them."
	AuditResultLabel       = "result"
	AuditCriticalWaitsName = "sessions_audit_critical_waits_total"
	AuditCriticalWaitsHelp = "Revocation audit events that waited for dispatcher buffer space."
)

// AuditResult is one labeled value of AuditEventsName.
type AuditResult struct {
	Value string
	Count uint64
}

// AuditResults splits dispatcher stats into AuditEventsName series.
func AuditResults(s tokenauth.AuditStats) []AuditResult {
	return []AuditResult{
		{Value: "delivered", Count: s.Delivered},
		{Value: "dropped", Count: s.Dropped},
		{Value: "critical_lost", Count: s.CriticalLost},
	}
}

// HistogramBounds are the upper bounds, in seconds, of the engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
