package domain

// Status represents the current lifecycle state of a DownloadTask.
type Status string

const (
	StatusPending     Status = "pending"
	StatusFetching    Status = "fetching"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusPaused      Status = "paused"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsActive reports whether the task occupies a worker slot in this status.
func (s Status) IsActive() bool {
	return s == StatusFetching || s == StatusDownloading || s == StatusProcessing
}

// IsTerminal reports whether the task has finished. Failed counts as
// terminal for removal purposes; it leaves only via an explicit retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Event is a state-machine event applied to a task via the store.
type Event string

const (
	EventClaim            Event = "claim"
	EventInfoReady        Event = "info_ready"
	EventTransferComplete Event = "transfer_complete"
	EventFinalizeComplete Event = "finalize_complete"
	EventFail             Event = "fail"
	EventCancel           Event = "cancel"
	EventPause            Event = "pause"
	EventResume           Event = "resume"
	EventRetry            Event = "retry"
)

// transitions is the authoritative transition table. Any (status, event)
// pair absent from it is an invalid transition.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventClaim:  StatusFetching,
		EventPause:  StatusPaused,
		EventCancel: StatusCancelled,
	},
	StatusFetching: {
		EventInfoReady: StatusDownloading,
		EventFail:      StatusFailed,
		EventCancel:    StatusCancelled,
		EventPause:     StatusPaused,
	},
	StatusDownloading: {
		EventTransferComplete: StatusProcessing,
		EventFail:             StatusFailed,
		EventCancel:           StatusCancelled,
		EventPause:            StatusPaused,
	},
	StatusProcessing: {
		EventFinalizeComplete: StatusCompleted,
		EventFail:             StatusFailed,
		EventCancel:           StatusCancelled,
		EventPause:            StatusPaused,
	},
	StatusPaused: {
		EventResume: StatusPending,
		EventCancel: StatusCancelled,
	},
	StatusFailed: {
		EventRetry: StatusPending,
	},
}

// Next returns the status reached by applying event e in status s.
// The second return value is false when the transition is not allowed.
func Next(s Status, e Event) (Status, bool) {
	next, ok := transitions[s][e]
	return next, ok
}
