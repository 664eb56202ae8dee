package session

import "errors"

// Rejections. A rejected call leaves the session unchanged.
var (
	ErrNotWaiting          = errors.New("session is not waiting for players")
	ErrNotPlaying          = errors.New("session is not playing")
	ErrAlreadyJoined       = errors.New("participant already joined")
	ErrJoinInProgress      = errors.New("join already in progress")
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrInsufficientBalance = errors.New("insufficient balance for entry fee")
	ErrNotEnoughPlayers    = errors.New("not enough players to start")
	ErrNoCandidates        = errors.New("no player to pass the potato to")
	ErrStaleTransition     = errors.New("transition already applied")
	ErrChargeFailed        = errors.New("entry fee charge failed")
	ErrWriteConflict       = errors.New("too many concurrent writes")
)

// Reason returns a short machine-readable code for a rejection, or "internal".
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotWaiting):
		return "not_waiting"
	case errors.Is(err, ErrNotPlaying):
		return "not_playing"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrJoinInProgress):
		return "join_in_progress"
	case errors.Is(err, ErrWalletNotConnected):
		return "wallet_not_connected"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, ErrStaleTransition):
		return "stale_transition"
	case errors.Is(err, ErrChargeFailed):
		return "charge_failed"
	case errors.Is(err, ErrWriteConflict):
		return "write_conflict"
	default:
		return "internal"
	}
}
