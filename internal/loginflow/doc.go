// Package loginflow is the federated login state machine.
//
// A login attempt moves through discrete steps, one HTTP round trip at a
// time:
//
//	START ──► TOKEN ──► SUCCEED
//	            │
//	            ├──► SET_PASSWORD ──► CREATE_USER ──► SUCCEED
//	            │         │                │
//	            │         └──► ABANDON ◄───┘
//	            │
//	            └──► DELEGATED_REDIRECT ──► (external registration) ──► RESUME ──► SUCCEED
//
// The caller hands in a session.Carrier on every request. FlowState and the
// attempt's flowdata.Store live inside it, so the Flow itself keeps no
// per-user state and one instance serves every concurrent attempt for its
// provider.
//
// Fatal conditions are returned as *FlowError with a Kind the caller maps to
// a generic user-facing message. Recoverable validation failures (bad
// password, wrong activation code) come back as a Prompt with an inline
// localized error instead.
package loginflow
