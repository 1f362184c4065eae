package dialog

// NoteKind identifies a typed notification forwarded by the event
// dispatcher to one call's state machine.
type NoteKind int

const (
	NoteChannelCreated NoteKind = iota
	NoteAnswered
	NoteDigit
	NotePlaybackFinished
	NoteHangup
	NoteCancel
	NoteConnectionLost
	NoteAbort
)

// Note is one notification for one call.
type Note struct {
	Kind    NoteKind
	Channel string
	Digit   string
	Cause   string
}
