package dto

import "time"

// UpdatePolicyRequest payload.
type UpdatePolicyRequest struct {
	ResolutionBudgetMinutes int `json:"resolution_budget_minutes"`
	ResponseBudgetMinutes   int `json:"response_budget_minutes"`
}

// ScanResponse summarizes a manual breach scan.
type ScanResponse struct {
	Ran                   bool      `json:"ran"`
	RanAt                 time.Time `json:"ran_at"`
	ResolutionBreached    []string  `json:"resolution_breached"`
	FirstResponseBreached []string  `json:"first_response_breached"`
	Failed                int       `json:"failed"`
}
