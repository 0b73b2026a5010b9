package letsencrypt

// State is a step of the certificate acquisition state machine.
type State int

const (
	StateNotRequested State = iota
	StateCacheCheck
	StateValid
	StateRandomDelay
	StateRemoteCheck
	StateResolvedElsewhere
	StateOrderCreated
	StateAuthorizationFetched
	StateChallengeSelected
	StateChallengeIssued
	StateVerifying
	StateCompleting
	StateIssued
	StateFailed
)

var stateNames = [...]string{
	StateNotRequested:         "not_requested",
	StateCacheCheck:           "cache_check",
	StateValid:                "valid",
	StateRandomDelay:          "random_delay",
	StateRemoteCheck:          "remote_check",
	StateResolvedElsewhere:    "resolved_elsewhere",
	StateOrderCreated:         "order_created",
	StateAuthorizationFetched: "authorization_fetched",
	StateChallengeSelected:    "challenge_selected",
	StateChallengeIssued:      "challenge_issued",
	StateVerifying:            "verifying",
	StateCompleting:           "completing",
	StateIssued:               "issued",
	StateFailed:               "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateValid, StateResolvedElsewhere, StateIssued, StateFailed:
		return true
	}
	return false
}
