package node

import "errors"

var (
	// ErrNodeNotFound is returned when a node ID or address is not in the directory.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidLocation is returned when a location path fails validation.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidAddress is returned when a node address cannot be registered.
	ErrInvalidAddress = errors.New("invalid node address")

	// ErrDirectoryFull is returned when every node ID is allocated.
	ErrDirectoryFull = errors.New("node directory full")
)
