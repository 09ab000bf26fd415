package usecase

import "parley/internal/domain"

// sessionEvent drives the session state machine.
type sessionEvent int

const (
	evConnectRequested sessionEvent = iota
	evConnectSucceeded
	evConnectFailed
	evSpeechStarted
	evSpeechEnded
	evSegmentFinalized
	evSegmentDiscarded
	evDisconnected
)

// transition is the pure session state machine. It returns the next state
// and whether the event is legal in the current state; illegal events leave
// the state untouched.
func transition(state domain.SessionState, ev sessionEvent) (domain.SessionState, bool) {
	switch ev {
	case evConnectRequested:
		if state == domain.SessionStateDisconnected {
			return domain.SessionStateConnecting, true
		}
	case evConnectSucceeded:
		if state == domain.SessionStateConnecting {
			return domain.SessionStateListening, true
		}
	case evConnectFailed:
		if state == domain.SessionStateConnecting {
			return domain.SessionStateDisconnected, true
		}
	case evSpeechStarted:
		if state == domain.SessionStateListening {
			return domain.SessionStateCapturing, true
		}
	case evSpeechEnded:
		if state == domain.SessionStateCapturing {
			return domain.SessionStateFinalizing, true
		}
	case evSegmentFinalized, evSegmentDiscarded:
		if state == domain.SessionStateFinalizing {
			return domain.SessionStateListening, true
		}
	case evDisconnected:
		if state != domain.SessionStateDisconnected {
			return domain.SessionStateDisconnected, true
		}
	}
	return state, false
}
