package shared

// RejectionReason represents the reason a signal failed an admission check.
type RejectionReason int

const (
	MinRiskReward RejectionReason = iota
	MaxConcurrentTrades
	MaxDailyTrades
	CorrelatedExposure
	PortfolioHeatExceeded
	ExecutionFailed
	InsufficientMargin
)

// String stringifies the provided rejection reason.
func (r RejectionReason) String() string {
	switch r {
	case MinRiskReward:
		return "risk reward below minimum"
	case MaxConcurrentTrades:
		return "max concurrent trades reached"
	case MaxDailyTrades:
		return "max daily trades reached"
	case CorrelatedExposure:
		return "correlated exposure limit exceeded"
	case PortfolioHeatExceeded:
		return "portfolio heat limit exceeded"
	case ExecutionFailed:
		return "order execution failed"
	case InsufficientMargin:
		return "insufficient margin"
	default:
		return "unknown"
	}
}

// CloseReason represents the condition that closed an open position.
type CloseReason int

const (
	TargetHit CloseReason = iota
	StopHit
	TimeExit
)

// String stringifies the provided close reason.
func (r CloseReason) String() string {
	switch r {
	case TargetHit:
		return "target hit"
	case StopHit:
		return "stop hit"
	case TimeExit:
		return "time exit"
	default:
		return "unknown"
	}
}
