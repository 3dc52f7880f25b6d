package types

import "time"

// RequestMetric is a single observation recorded into a provider's rolling window
type RequestMetric struct {
	Timestamp    time.Time     `json:"timestamp"`
	Latency      time.Duration `json:"latency"`
	Success      bool          `json:"success"`
	Tokens       int           `json:"tokens,omitempty"`
	CostPerToken float64       `json:"cost_per_token,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ProviderStats holds counters and rolling-window averages for one provider
type ProviderStats struct {
	Provider      string          `json:"provider"`
	TotalRequests int             `json:"total_requests"`
	Successes     int             `json:"successes"`
	Failures      int             `json:"failures"`
	Window        []RequestMetric `json:"window"`
	AvgLatency    time.Duration   `json:"avg_latency"`
	AvgCost       float64         `json:"avg_cost"`
	ErrorRate     float64         `json:"error_rate"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// SuccessRate returns the success ratio over the rolling window
func (s ProviderStats) SuccessRate() float64 {
	if len(s.Window) == 0 {
		return 0
	}
	return 1 - s.ErrorRate
}
