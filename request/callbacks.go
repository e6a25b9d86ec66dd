package request

// ProgressKind tells the direction of a progress report.
type ProgressKind int

const (
	ProgressSent ProgressKind = iota
	ProgressReceived
)

func (k ProgressKind) String() string {
	if k == ProgressSent {
		return "sent"
	}
	return "received"
}

// Callbacks receive the outcome of a call. Exactly one of OnSuccess and
// OnError fires unless the call is cancelled; then neither does.
//
// OnProgress is not serialized with cancellation: a tick already past its
// state check when Cancel runs may still arrive once. It may call Cancel.
type Callbacks struct {
	OnSuccess  func(payload []byte)
	OnError    func(err error)
	OnProgress func(kind ProgressKind, current, total int64)
}
