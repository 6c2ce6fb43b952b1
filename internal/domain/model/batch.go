package model

// PerUserResult is the outcome of one user's calculation inside a batch.
type PerUserResult struct {
	UserID    string                `json:"user_id"`
	Success   bool                  `json:"success"`
	Score     *DailyEngagementScore `json:"score,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind ErrorKind             `json:"error_kind,omitempty"`
}

// BatchResult aggregates a batch run. Successful+Failed == len(Details);
// Skipped counts users never started because the run was cancelled.
type BatchResult struct {
	TargetDate Date            `json:"target_date"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped,omitempty"`
	Details    []PerUserResult `json:"details"`
}

// Summarize folds per-user results into a BatchResult.
func Summarize(day Date, details []PerUserResult, skipped int) BatchResult {
	res := BatchResult{TargetDate: day, Skipped: skipped, Details: details}
	if res.Details == nil {
		res.Details = []PerUserResult{}
	}
	for _, d := range res.Details {
		if d.Success {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	return res
}
