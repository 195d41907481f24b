package domain

type TransitionKind string

const (
	TransitionLive  TransitionKind = "live"
	TransitionEnded TransitionKind = "ended"
)

type EndReason string

const (
	ReasonExplicit   EndReason = "explicit"
	ReasonDisconnect EndReason = "disconnect"
)

// Transition reports that a session went live or ended as a result of a
// coordinator operation. Reason is only set for TransitionEnded.
//
// Seq is assigned while the room is locked and grows across all sessions, so
// for one session a higher Seq always describes the more recent state.
type Transition struct {
	Kind          TransitionKind
	SessionID     SessionID
	BroadcasterID ConnectionID
	Reason        EndReason
	Seq           uint64
}
