package metrics

const namespaceSectionnet = "sectionnet"

// subsystems
const (
	subsystemEngine   = "engine"
	subsystemNetwork  = "network"
	subsystemDKG      = "dkg"
	subsystemKeyChain = "keychain"
	subsystemRouting  = "routing"
	subsystemSection  = "section"
)
