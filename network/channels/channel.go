package channels

// Channel specifies a virtual and isolated communication medium. Engines
// register on a channel and exchange messages with the engines registered on
// the same channel of other nodes.
type Channel string
type ChannelList []Channel

const (
	// Section carries the envelopes of the section protocol: joins, proposals,
	// DKG rounds, section sync and routed user messages.
	Section Channel = "section"
	// TestNetwork is used by tests only.
	TestNetwork Channel = "test-network"
)

func (c Channel) String() string {
	return string(c)
}

// Contains returns true if the ChannelList contains the given channel.
func (cl ChannelList) Contains(channel Channel) bool {
	for _, c := range cl {
		if c == channel {
			return true
		}
	}
	return false
}

// Valid returns true for the channels known to the node.
func Valid(channel Channel) bool {
	return All().Contains(channel)
}

// All returns every channel.
func All() ChannelList {
	return ChannelList{Section, TestNetwork}
}
