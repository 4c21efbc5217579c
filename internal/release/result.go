package release

// Reason is the failure code attached to a rejected release attempt.
// Every stage of the pipeline rejects with its own code so the audit
// trail distinguishes them.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonInvalidTarget  Reason = "invalid_target"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonLockedOut      Reason = "locked_out"
	ReasonAuthFailed     Reason = "authentication_failed"
	ReasonReplayDetected Reason = "replay_detected"
	ReasonNotFound       Reason = "not_found"
)

// Result is the structured outcome of one release attempt. ReleaseID
// correlates with exactly one audit record.
type Result struct {
	Success   bool   `json:"success"`
	Error     Reason `json:"error,omitempty"`
	ReleaseID string `json:"release_id"`
}

// Request carries everything a release attempt is judged on.
type Request struct {
	TargetType  string `json:"target_type"`
	TargetID    string `json:"target_id"`
	Token       string `json:"token"`
	Nonce       string `json:"nonce"`
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason"`
	SourceIP    string `json:"source_ip"`
	SessionID   string `json:"session_id"`
}
