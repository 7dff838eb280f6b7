// Package encoding holds the domain separation tags of signed values. Signed
// bytes are prefixed with the tag of their type before hashing.
package encoding

func tag(domain string) string {
	return protocolPrefix + domain
}

const protocolPrefix = "SECTIONNET-V0.0_"

var (
	// SectionInfoTag is used for section infos signed by their own key.
	SectionInfoTag = tag("Section-Info")
	// KeyLinkTag is used for key chain links signed by the parent key.
	KeyLinkTag = tag("Key-Link")
	// NodeStateTag is used for agreed membership changes.
	NodeStateTag = tag("Node-State")
	// RelocateTag is used for relocation credentials.
	RelocateTag = tag("Relocate")
	// ProposalTag is used for section proposals signed by elder shares.
	ProposalTag = tag("Proposal")
	// EnvelopeTag is used for routed message authorities.
	EnvelopeTag = tag("Envelope")
	// DKGMessageTag is used for DKG messages.
	DKGMessageTag = tag("DKG-Message")
)

// Tagged returns data prefixed with the domain tag.
func Tagged(tag string, data []byte) []byte {
	out := make([]byte, 0, len(tag)+len(data))
	out = append(out, tag...)
	return append(out, data...)
}
