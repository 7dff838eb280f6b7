package messages

import (
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

// SectionSyncRequest asks a node for the sections it knows. An empty list of
// prefixes asks for all of them. The answer goes to Requester.
type SectionSyncRequest struct {
	Requester overlay.Peer
	Prefixes  []overlay.Prefix
}

// SyncedSection is a signed section info with a key chain proof from the
// genesis key to the section key.
type SyncedSection struct {
	Info  overlay.SignedSectionInfo
	Proof []keychain.Link
}

// SectionSync carries known sections.
type SectionSync struct {
	Sections []SyncedSection
}

// SectionUpdate announces a new section info to the members of a section, after
// an elder change or a split.
type SectionUpdate struct {
	Section SyncedSection
	Members []overlay.SignedNodeState
}

// Heartbeat is sent by members to their elders.
type Heartbeat struct {
	Generation uint64
}

// UserMessage is an application payload routed through the overlay.
type UserMessage struct {
	Data []byte
}
