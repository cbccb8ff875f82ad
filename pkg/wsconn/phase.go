package wsconn

import "fmt"

// Phase is a step of the connection state machine.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseResolving
	PhaseConnecting
	PhaseTLSHandshake
	PhaseProtocolHandshake
	PhaseStreaming
	PhaseClosed
)

var phaseNames = [...]string{
	PhaseDisconnected:      "disconnected",
	PhaseResolving:         "resolving",
	PhaseConnecting:        "connecting",
	PhaseTLSHandshake:      "tls_handshake",
	PhaseProtocolHandshake: "protocol_handshake",
	PhaseStreaming:         "streaming",
	PhaseClosed:            "closed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PhaseError records the step at which the connection attempt stopped.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
