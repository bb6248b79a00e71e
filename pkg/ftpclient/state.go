package ftpclient

// State is the session state of a Client.
//
//	Disconnected -> Connected -> Authenticated <-> Transferring
//	any state -> Closed
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TransferType is the representation type requested with TYPE.
type TransferType int

const (
	// Binary transfers bytes unchanged. This is the default.
	Binary TransferType = iota
	// ASCII lets the server translate line endings.
	ASCII
)

func (t TransferType) code() string {
	if t == ASCII {
		return "A"
	}
	return "I"
}

func (t TransferType) String() string {
	if t == ASCII {
		return "ascii"
	}
	return "binary"
}
