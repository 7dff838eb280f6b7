// Package prefixmap holds a node's knowledge of sections: a prefix-free set of
// signed section infos, each certified by a key the key chain trusts.
package prefixmap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

var (
	// ErrNotFound is returned when no known section covers an identifier.
	ErrNotFound = errors.New("no known section")
	// ErrUntrustedKey is returned for infos whose signature fails, whose key the
	// key chain does not trust, or whose key was certified for another prefix.
	ErrUntrustedKey = errors.New("untrusted section key")
	// ErrStaleKey is returned for infos older than what is already known.
	ErrStaleKey = errors.New("stale section info")
	// ErrUnrelatedPrefix is returned when a descendant section's key does not
	// descend from the key of the known ancestor section.
	ErrUnrelatedPrefix = errors.New("section key unrelated to known ancestor")
)

// Lineage answers trust questions about section keys. It is implemented by
// keychain.KeyChain.
type Lineage interface {
	IsTrusted(key crypto.PublicKey) bool
	PrefixOf(key crypto.PublicKey) (overlay.Prefix, bool)
	HasAncestor(key, ancestor crypto.PublicKey) bool
}

// PrefixMap is a prefix-free map from prefixes to signed section infos. When a
// stored section is replaced by its descendants, the replaced info is kept as a
// fallback so lookups in regions not yet covered by a known child still resolve.
// It is not safe for concurrent use.
type PrefixMap struct {
	lineage   Lineage
	sections  map[overlay.Prefix]overlay.SignedSectionInfo
	fallbacks map[overlay.Prefix]overlay.SignedSectionInfo
}

// New creates an empty map backed by the given key lineage.
func New(lineage Lineage) *PrefixMap {
	return &PrefixMap{
		lineage:   lineage,
		sections:  make(map[overlay.Prefix]overlay.SignedSectionInfo),
		fallbacks: make(map[overlay.Prefix]overlay.SignedSectionInfo),
	}
}

// Len returns the number of stored sections, fallbacks excluded.
func (m *PrefixMap) Len() int {
	return len(m.sections)
}

// Get returns the section stored for exactly prefix.
func (m *PrefixMap) Get(prefix overlay.Prefix) (overlay.SignedSectionInfo, bool) {
	info, ok := m.sections[prefix]
	return info, ok
}

// All returns the stored sections ordered by prefix length, then by name.
func (m *PrefixMap) All() []overlay.SignedSectionInfo {
	all := make([]overlay.SignedSectionInfo, 0, len(m.sections))
	for _, info := range m.sections {
		all = append(all, info)
	}
	sortInfos(all)
	return all
}

// Prefixes returns the stored prefixes in the order of All.
func (m *PrefixMap) Prefixes() []overlay.Prefix {
	all := m.All()
	prefixes := make([]overlay.Prefix, 0, len(all))
	for _, info := range all {
		prefixes = append(prefixes, info.Prefix())
	}
	return prefixes
}

func sortInfos(infos []overlay.SignedSectionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		pi, pj := infos[i].Prefix(), infos[j].Prefix()
		if pi.Len() != pj.Len() {
			return pi.Len() < pj.Len()
		}
		return pi.Name().Compare(pj.Name()) < 0
	})
}

// Lookup returns the section whose prefix matches id. If no stored prefix
// matches, the most specific retained fallback covering id is returned.
func (m *PrefixMap) Lookup(id overlay.Identifier) (overlay.SignedSectionInfo, error) {
	if info, ok := m.longestMatch(m.sections, id); ok {
		return info, nil
	}
	if info, ok := m.longestMatch(m.fallbacks, id); ok {
		return info, nil
	}
	return overlay.SignedSectionInfo{}, fmt.Errorf("%s: %w", id.TerminalString(), ErrNotFound)
}

func (m *PrefixMap) longestMatch(set map[overlay.Prefix]overlay.SignedSectionInfo, id overlay.Identifier) (overlay.SignedSectionInfo, bool) {
	var best overlay.SignedSectionInfo
	found := false
	for prefix, info := range set {
		if !prefix.Matches(id) {
			continue
		}
		if !found || prefix.Len() > best.Prefix().Len() {
			best, found = info, true
		}
	}
	return best, found
}

// Closest returns the known section best suited to reach id: the matching
// section if there is one, otherwise the section whose prefix name is closest
// to id by XOR distance.
func (m *PrefixMap) Closest(id overlay.Identifier) (overlay.SignedSectionInfo, error) {
	if info, ok := m.longestMatch(m.sections, id); ok {
		return info, nil
	}
	var best overlay.SignedSectionInfo
	found := false
	for _, info := range m.sections {
		if !found || info.Prefix().CompareDistance(best.Prefix(), id) < 0 {
			best, found = info, true
		}
	}
	if !found {
		return m.Lookup(id)
	}
	return best, nil
}

// InsertOrUpdate stores a verified section info, keeping the map prefix-free.
//
// Expected errors:
//   - ErrUntrustedKey if the info is not signed by its own key, the key is not
//     trusted, or the key was certified for a prefix other than the info's
//   - ErrStaleKey if the same prefix has a newer key, or a descendant is already known
//   - ErrUnrelatedPrefix if a known ancestor's key is not an ancestor of the new key
func (m *PrefixMap) InsertOrUpdate(info overlay.SignedSectionInfo) error {
	if err := info.Verify(); err != nil {
		return fmt.Errorf("%s: %w: %v", info.Prefix().LogString(), ErrUntrustedKey, err)
	}
	key := info.Key()
	if !m.lineage.IsTrusted(key) {
		return fmt.Errorf("%s key %s: %w", info.Prefix().LogString(), key.TerminalString(), ErrUntrustedKey)
	}
	prefix := info.Prefix()
	if certified, ok := m.lineage.PrefixOf(key); !ok || certified != prefix {
		return fmt.Errorf("%s key %s is certified for %s: %w", prefix.LogString(), key.TerminalString(), certified.LogString(), ErrUntrustedKey)
	}

	if current, ok := m.sections[prefix]; ok {
		switch {
		case current.Key() == key:
			return nil
		case m.lineage.HasAncestor(key, current.Key()):
		default:
			return fmt.Errorf("%s key %s does not descend from %s: %w", prefix.LogString(), key.TerminalString(), current.Key().TerminalString(), ErrStaleKey)
		}
		m.sections[prefix] = info
		return nil
	}

	var ancestors []overlay.Prefix
	for stored, current := range m.sections {
		switch {
		case stored.IsExtensionOf(prefix):
			return fmt.Errorf("%s already split into %s: %w", prefix.LogString(), stored.LogString(), ErrStaleKey)
		case prefix.IsExtensionOf(stored):
			if !m.lineage.HasAncestor(key, current.Key()) {
				return fmt.Errorf("%s key %s does not descend from %s key %s: %w",
					prefix.LogString(), key.TerminalString(), stored.LogString(), current.Key().TerminalString(), ErrUnrelatedPrefix)
			}
			ancestors = append(ancestors, stored)
		}
	}
	for _, a := range ancestors {
		m.fallbacks[a] = m.sections[a]
		delete(m.sections, a)
	}
	m.sections[prefix] = info
	m.pruneFallbacks()
	return nil
}

// pruneFallbacks drops fallbacks whose region is fully covered by stored sections.
func (m *PrefixMap) pruneFallbacks() {
	prefixes := make([]overlay.Prefix, 0, len(m.sections))
	for p := range m.sections {
		prefixes = append(prefixes, p)
	}
	for p := range m.fallbacks {
		if p.IsCoveredBy(prefixes) {
			delete(m.fallbacks, p)
		}
	}
}

// RemoveCovered removes every stored section with prefix equal to or extending
// prefix and returns the removed infos.
func (m *PrefixMap) RemoveCovered(prefix overlay.Prefix) []overlay.SignedSectionInfo {
	var removed []overlay.SignedSectionInfo
	for p, info := range m.sections {
		if p == prefix || p.IsExtensionOf(prefix) {
			removed = append(removed, info)
			delete(m.sections, p)
		}
	}
	for p := range m.fallbacks {
		if p == prefix || p.IsExtensionOf(prefix) {
			delete(m.fallbacks, p)
		}
	}
	sortInfos(removed)
	return removed
}

// IsPrefixFree reports whether no stored prefix is an extension of another.
func (m *PrefixMap) IsPrefixFree() bool {
	for a := range m.sections {
		for b := range m.sections {
			if a != b && a.IsCompatible(b) {
				return false
			}
		}
	}
	return true
}
