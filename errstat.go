package osql

// Errstat status codes reported through the completion channel. Zero means success.
const (
	ErrstatOK = 0
	// ErrstatAborted is synthesized when a session is terminated before it completed.
	ErrstatAborted = 100
	// ErrstatTran carries any failure produced by the block processor while applying
	// the transaction. The session core does not interpret its contents.
	ErrstatTran = 110
)

// Errstat is the fixed-shape (code, message) status a session stores when it
// completes. The zero value means success. It is produced by the block processor
// and consumed verbatim by the waiting SQL engine thread.
type Errstat struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

// NewErrstat returns an Errstat with the given code and message.
func NewErrstat(code int, msg string) Errstat {
	return Errstat{Code: code, Msg: msg}
}

// ErrstatFromError wraps a Go error as a transaction failure status; a nil error
// yields the success status.
func ErrstatFromError(err error) Errstat {
	if err == nil {
		return Errstat{}
	}
	return Errstat{Code: ErrstatTran, Msg: err.Error()}
}

// IsOK reports whether the status means success.
func (e Errstat) IsOK() bool {
	return e.Code == ErrstatOK
}
