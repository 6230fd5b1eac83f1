// Package consenserr defines the error taxonomy shared by the block
// processor and the synchronizer (spec.md §7): transient errors that
// the supervisor retries, peer-misbehavior errors that carry a penalty,
// local-fatal errors that must not be swallowed, abort errors that
// return the supervisor to idle, and decline errors that hand the
// current sync attempt to the next mechanism in line.
package consenserr

import "fmt"

// RestartError signals a transient failure (peer RPC timeout, empty
// result). The synchronizer supervisor retries the mechanism without
// penalizing the peer.
type RestartError struct {
	Peer   string
	Reason error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart sync with peer %s: %v", e.Peer, e.Reason)
}
func (e *RestartError) Unwrap() error { return e.Reason }

func NewRestartError(peer string, reason error) error {
	return &RestartError{Peer: peer, Reason: reason}
}

// AbortError signals that synchronization cannot proceed at all
// (common ancestor below finalized height, no viable peer). The
// supervisor logs it and returns to idle without retrying.
type AbortError struct {
	Reason error
}

func (e *AbortError) Error() string  { return fmt.Sprintf("abort sync: %v", e.Reason) }
func (e *AbortError) Unwrap() error  { return e.Reason }
func NewAbortError(reason error) error { return &AbortError{Reason: reason} }

// DeclineError signals that this mechanism cannot service the peer
// after all (e.g. no common ancestor within its search window), but
// synchronization itself is not hopeless: the supervisor should try
// the next mechanism in its list rather than returning to idle.
type DeclineError struct {
	Reason error
}

func (e *DeclineError) Error() string    { return fmt.Sprintf("decline sync: %v", e.Reason) }
func (e *DeclineError) Unwrap() error    { return e.Reason }
func NewDeclineError(reason error) error { return &DeclineError{Reason: reason} }

// ApplyPenaltyError signals peer misbehavior: the caller should apply
// the standard penalty to the offending peer and fail the current
// operation, without retrying it.
type ApplyPenaltyError struct {
	Peer    string
	Penalty int
	Reason  error
}

func (e *ApplyPenaltyError) Error() string {
	return fmt.Sprintf("penalize peer %s by %d: %v", e.Peer, e.Penalty, e.Reason)
}
func (e *ApplyPenaltyError) Unwrap() error { return e.Reason }

// DefaultPenalty is the additive penalty applied on the wire error
// classes named in spec.md §6 (malformed envelope, undecodable block,
// verify failure during active processing).
const DefaultPenalty = 100

func NewApplyPenaltyError(peer string, reason error) error {
	return &ApplyPenaltyError{Peer: peer, Penalty: DefaultPenalty, Reason: reason}
}

// ApplyPenaltyAndRestartError signals peer misbehavior discovered
// mid-sync (a fetched block failed verification): the supervisor
// applies the penalty and then retries the mechanism from scratch.
type ApplyPenaltyAndRestartError struct {
	Peer    string
	Penalty int
	Reason  error
}

func (e *ApplyPenaltyAndRestartError) Error() string {
	return fmt.Sprintf("penalize peer %s by %d and restart sync: %v", e.Peer, e.Penalty, e.Reason)
}
func (e *ApplyPenaltyAndRestartError) Unwrap() error { return e.Reason }

func NewApplyPenaltyAndRestartError(peer string, reason error) error {
	return &ApplyPenaltyAndRestartError{Peer: peer, Penalty: DefaultPenalty, Reason: reason}
}
