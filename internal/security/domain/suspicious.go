package domain

// ActivityType names one detector rule's finding.
type ActivityType string

const (
	ActivityNewDevice          ActivityType = "new_device"
	ActivityImpossibleTravel   ActivityType = "impossible_travel"
	ActivityUnusualTime        ActivityType = "unusual_time"
	ActivityHighVelocity       ActivityType = "high_velocity"
	ActivityTorExitNode        ActivityType = "tor_exit_node"
	ActivityCredentialStuffing ActivityType = "credential_stuffing_pattern"
)

// Severity grades a single finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SuspiciousActivity is a transient, computed anomaly for one login attempt.
// It is folded into audit metadata and notification input, never stored on
// its own.
type SuspiciousActivity struct {
	Type        ActivityType `json:"type"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
}

// HasHighSeverity reports whether any finding is high severity.
func HasHighSeverity(activities []SuspiciousActivity) bool {
	for _, a := range activities {
		if a.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// AggregateRiskLevel grades a set of findings for the audit trail: any high
// finding, or two or more findings of any severity, is logged as high.
func AggregateRiskLevel(activities []SuspiciousActivity) RiskLevel {
	if len(activities) == 0 {
		return RiskLow
	}
	if HasHighSeverity(activities) || len(activities) >= 2 {
		return RiskHigh
	}
	if activities[0].Severity == SeverityMedium {
		return RiskMedium
	}
	return RiskLow
}
