package channel

// State is the connection state of a Transport.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// input is something that happened to the transport.
type input int

const (
	inputConnect    input = iota // explicit Connect call
	inputTimerFired              // reconnect timer elapsed
	inputDialOK                  // handshake completed
	inputDialFailed              // handshake failed
	inputClosed                  // live connection ended without Disconnect
	inputDisconnect              // deliberate Disconnect call
)

// effect is something the transport must do in response to an input.
type effect int

const (
	effectDial effect = iota
	effectEmitOpen
	effectEmitClose
	effectCloseConn
	effectScheduleReconnect
	effectCancelReconnect
)

// machine is the reconnection state. step is a pure function over it so the
// reconnect rules can be tested without a socket.
type machine struct {
	state            State
	reconnectPending bool
	deliberate       bool // the current or last closure was requested by Disconnect
}

func step(m machine, in input) (machine, []effect) {
	switch in {
	case inputConnect:
		if m.state == StateOpen || m.state == StateConnecting {
			return m, nil
		}
		var effs []effect
		if m.reconnectPending {
			m.reconnectPending = false
			effs = append(effs, effectCancelReconnect)
		}
		m.state = StateConnecting
		m.deliberate = false
		return m, append(effs, effectDial)

	case inputTimerFired:
		if !m.reconnectPending {
			return m, nil
		}
		m.reconnectPending = false
		if m.state == StateOpen || m.state == StateConnecting {
			return m, nil
		}
		m.state = StateConnecting
		m.deliberate = false
		return m, []effect{effectDial}

	case inputDialOK:
		if m.state != StateConnecting {
			// Disconnect won the race with the handshake.
			return m, []effect{effectCloseConn}
		}
		m.state = StateOpen
		return m, []effect{effectEmitOpen}

	case inputDialFailed:
		if m.state != StateConnecting {
			return m, nil
		}
		m.state = StateClosed
		return m.closed([]effect{effectEmitClose})

	case inputClosed:
		if m.state != StateOpen {
			return m, nil
		}
		m.state = StateClosed
		return m.closed([]effect{effectCloseConn, effectEmitClose})

	case inputDisconnect:
		var effs []effect
		if m.reconnectPending {
			m.reconnectPending = false
			effs = append(effs, effectCancelReconnect)
		}
		m.deliberate = true
		switch m.state {
		case StateOpen:
			m.state = StateClosed
			effs = append(effs, effectCloseConn, effectEmitClose)
		case StateConnecting:
			m.state = StateClosed
			effs = append(effs, effectEmitClose)
		}
		return m, effs
	}
	return m, nil
}

// closed schedules the single reconnect attempt unless the closure was
// deliberate or an attempt is already queued.
func (m machine) closed(effs []effect) (machine, []effect) {
	if m.deliberate || m.reconnectPending {
		return m, effs
	}
	m.reconnectPending = true
	return m, append(effs, effectScheduleReconnect)
}

func hasEffect(effs []effect, want effect) bool {
	for _, e := range effs {
		if e == want {
			return true
		}
	}
	return false
}
