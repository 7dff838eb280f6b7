package storage

// All bundles the stores of a node.
type All struct {
	Links    Links
	Sections Sections
	Shares   SecretShares
	Identity Identity
}
