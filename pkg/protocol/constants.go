package protocol

import "time"

// Directory and endpoint constants used throughout cadbridge.
const (
	// HomeDir is the user-level state directory (e.g., ~/.cadbridge).
	HomeDir = ".cadbridge"

	// DefaultSocketPath is the well-known local socket of the embedded server.
	DefaultSocketPath = "/tmp/cadbridge.sock"

	// DefaultTCPAddr is used on platforms without local sockets.
	DefaultTCPAddr = "127.0.0.1:23456"

	// MaxFrameBytes bounds a single line-delimited JSON frame.
	MaxFrameBytes = 1 << 20
)

// Defaults shared by server, coordinator and agent.
const (
	DefaultSelectionMaxAge = 300 * time.Second
	DefaultReapInterval    = 30 * time.Second
	DefaultMaxIterations   = 15
)

// Argument keys reserved by the selection continuation protocol.
const (
	ArgContinueSelection = "_continue_selection"
	ArgOperationID       = "_operation_id"
	ArgOperation         = "operation"

	// Bridge-side replay markers.
	ArgContinueFromInteractive = "_continue_from_interactive"
	ArgToolName                = "tool_name"
	ArgOriginalArgs            = "original_args"
)
