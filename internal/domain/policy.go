package domain

// Default admission values applied when a type has no stored policy.
const (
	DefaultPriority      = 5
	DefaultMaxAttempts   = 3
	DefaultWindowMinutes = 60
	DefaultTTLSeconds    = 86400
	PriorityMin          = 1
	PriorityMax          = 10
)

// PriorityConfig is the per-type delivery policy. It is read at the start of
// a processing cycle and treated as immutable until the cycle ends.
type PriorityConfig struct {
	Type                NotificationType `json:"type"`
	BasePriority        int              `json:"base_priority"`
	BypassConsolidation bool             `json:"bypass_consolidation"`
	BypassQuietHours    bool             `json:"bypass_quiet_hours"`
	// MaxPerHour caps admissions per (recipient, type) over a rolling hour.
	// nil means unlimited.
	MaxPerHour                 *int `json:"max_per_hour,omitempty"`
	ConsolidationWindowMinutes int  `json:"consolidation_window_minutes"`
	TTLSeconds                 int  `json:"ttl_seconds"`
}

// DefaultPolicy is the safe fallback used when no policy row exists for a type.
func DefaultPolicy(t NotificationType) PriorityConfig {
	return PriorityConfig{
		Type:                       t,
		BasePriority:               DefaultPriority,
		BypassConsolidation:        false,
		BypassQuietHours:           false,
		MaxPerHour:                 nil,
		ConsolidationWindowMinutes: DefaultWindowMinutes,
		TTLSeconds:                 DefaultTTLSeconds,
	}
}

// ClampPriority bounds p into the 1..10 scheduling range.
func ClampPriority(p int) int {
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}
