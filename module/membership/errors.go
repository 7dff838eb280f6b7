package membership

import "errors"

var (
	// ErrWrongSection is returned for candidates outside the section prefix.
	ErrWrongSection = errors.New("candidate does not belong to the section")
	// ErrSectionFull is returned when the section reached its maximum size.
	ErrSectionFull = errors.New("section is full")
	// ErrResourceProofFailed is returned when the candidate's resource proof does not verify.
	ErrResourceProofFailed = errors.New("resource proof failed")
	// ErrAlreadyMember is returned for candidates that are already members.
	ErrAlreadyMember = errors.New("node is already a member")
	// ErrUnknownMember is returned for changes to nodes that are not members.
	ErrUnknownMember = errors.New("node is not a member")
	// ErrInvalidState is returned for node states that do not fit the change.
	ErrInvalidState = errors.New("node state does not fit the change")
	// ErrNoPendingSplit is returned when a split half is recorded without a pending split.
	ErrNoPendingSplit = errors.New("no pending split")
	// ErrSplitIncomplete is returned when committing a split before both halves agreed.
	ErrSplitIncomplete = errors.New("split not agreed for both halves")
)
