package section

import "errors"

var (
	// ErrNotJoined is returned by Send before the node is a member of a section.
	ErrNotJoined = errors.New("node has not joined a section")
	// ErrJoinFailed is reported through JoinErr when every join attempt failed.
	ErrJoinFailed = errors.New("could not join the network")
	// ErrNoContacts is reported through JoinErr when a joining node knows no node to contact.
	ErrNoContacts = errors.New("no contacts to join through")
	// ErrShutdown is returned by Send once the engine is shutting down.
	ErrShutdown = errors.New("section engine is shutting down")
)
