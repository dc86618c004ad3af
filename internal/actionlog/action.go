// Package actionlog implements the Action Log: structured, append-only
// events keyed by (service_id, log_id), with an optional console
// snapshot attached in a parallel tree. Both trees are written in one
// store transaction so a log entry and its snapshot are never observed
// out of sync.
package actionlog

import "github.com/nullstack/svcd/internal/store"

// Kind enumerates the Action variants.
type Kind uint8

const (
	KindSystemStartup Kind = iota
	KindServiceCmdStart
	KindServiceStarted
	KindServiceCmdStop
	KindServiceStopped
	KindServiceEnded
	KindServiceCrashed
	KindServiceCmdKilled
	KindServiceKilled
	KindServiceStartFailed
	KindServiceMaxRetries
	KindStdin
)

func (k Kind) String() string {
	switch k {
	case KindSystemStartup:
		return "SystemStartup"
	case KindServiceCmdStart:
		return "ServiceCmdStart"
	case KindServiceStarted:
		return "ServiceStarted"
	case KindServiceCmdStop:
		return "ServiceCmdStop"
	case KindServiceStopped:
		return "ServiceStopped"
	case KindServiceEnded:
		return "ServiceEnded"
	case KindServiceCrashed:
		return "ServiceCrashed"
	case KindServiceCmdKilled:
		return "ServiceCmdKilled"
	case KindServiceKilled:
		return "ServiceKilled"
	case KindServiceStartFailed:
		return "ServiceStartFailed"
	case KindServiceMaxRetries:
		return "ServiceMaxRetries"
	case KindStdin:
		return "Stdin"
	}
	return "Unknown"
}

// Action is a tagged-variant LogAction; only the field(s) relevant to
// Kind are meaningful.
type Action struct {
	Kind  Kind
	Code  int32  // ServiceCrashed's exit code
	Count uint64 // ServiceMaxRetries' counter value
	Text  string // Stdin's line, or ServiceStartFailed's message
}

func SystemStartup() Action       { return Action{Kind: KindSystemStartup} }
func ServiceCmdStart() Action     { return Action{Kind: KindServiceCmdStart} }
func ServiceStarted() Action      { return Action{Kind: KindServiceStarted} }
func ServiceCmdStop() Action      { return Action{Kind: KindServiceCmdStop} }
func ServiceStopped() Action      { return Action{Kind: KindServiceStopped} }
func ServiceEnded() Action        { return Action{Kind: KindServiceEnded} }
func ServiceCrashed(code int32) Action {
	return Action{Kind: KindServiceCrashed, Code: code}
}
func ServiceCmdKilled() Action { return Action{Kind: KindServiceCmdKilled} }
func ServiceKilled() Action    { return Action{Kind: KindServiceKilled} }
func ServiceStartFailed(msg string) Action {
	return Action{Kind: KindServiceStartFailed, Text: msg}
}
func ServiceMaxRetries(n uint64) Action {
	return Action{Kind: KindServiceMaxRetries, Count: n}
}
func Stdin(line string) Action { return Action{Kind: KindStdin, Text: line} }

func (a Action) encode(w *store.Writer) {
	w.PutUint8(uint8(a.Kind))
	w.PutInt32(a.Code)
	w.PutUint64(a.Count)
	w.PutString(a.Text)
}

func decodeAction(r *store.Reader) (Action, error) {
	var a Action
	kind, err := r.Uint8()
	if err != nil {
		return a, err
	}
	a.Kind = Kind(kind)
	if a.Code, err = r.Int32(); err != nil {
		return a, err
	}
	if a.Count, err = r.Uint64(); err != nil {
		return a, err
	}
	if a.Text, err = r.String(); err != nil {
		return a, err
	}
	return a, nil
}
