// Package keychain maintains the append-only history of section keys. Every key
// except the genesis key is certified by a link signed with its parent key, and
// a key is trusted iff it is reachable from the genesis key through links that
// were not discarded by fork resolution.
package keychain

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

// DefaultLatestCacheSize is the number of prefixes for which the most recent
// trusted key is cached.
const DefaultLatestCacheSize = 1024

type entry struct {
	prefix    overlay.Prefix
	key       crypto.PublicKey
	parent    int
	link      Link
	depth     int
	discarded bool
}

// KeyChain is an arena of keys with explicit parent indices. It is not safe for
// concurrent use: it is owned by the section engine loop.
type KeyChain struct {
	entries  []entry
	index    map[crypto.PublicKey]int
	children map[int][]int
	forks    []ForkError
	latest   *lru.Cache[overlay.Prefix, int]
}

// New creates a chain rooted at the genesis key, which governs the root prefix.
func New(genesis crypto.PublicKey) *KeyChain {
	kc, err := NewWithCacheSize(genesis, DefaultLatestCacheSize)
	if err != nil {
		panic(err)
	}
	return kc
}

// NewWithCacheSize creates a chain with a custom size of the latest-key cache.
func NewWithCacheSize(genesis crypto.PublicKey, cacheSize int) (*KeyChain, error) {
	if genesis.IsZero() {
		return nil, fmt.Errorf("genesis key must be set: %w", crypto.ErrInvalidKey)
	}
	latest, err := lru.New[overlay.Prefix, int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create latest key cache: %w", err)
	}
	kc := &KeyChain{
		entries:  []entry{{prefix: overlay.RootPrefix, key: genesis, parent: -1}},
		index:    map[crypto.PublicKey]int{genesis: 0},
		children: make(map[int][]int),
		latest:   latest,
	}
	return kc, nil
}

// GenesisKey returns the root of the chain.
func (kc *KeyChain) GenesisKey() crypto.PublicKey {
	return kc.entries[0].key
}

// Len returns the number of keys in the chain, discarded branches included.
func (kc *KeyChain) Len() int {
	return len(kc.entries)
}

// IsTrusted returns true if key is in the chain and not on a discarded branch.
func (kc *KeyChain) IsTrusted(key crypto.PublicKey) bool {
	i, ok := kc.index[key]
	return ok && !kc.entries[i].discarded
}

// Has returns true if key is in the chain, discarded or not.
func (kc *KeyChain) Has(key crypto.PublicKey) bool {
	_, ok := kc.index[key]
	return ok
}

// PrefixOf returns the prefix certified for a trusted key.
func (kc *KeyChain) PrefixOf(key crypto.PublicKey) (overlay.Prefix, bool) {
	i, ok := kc.index[key]
	if !ok || kc.entries[i].discarded {
		return overlay.Prefix{}, false
	}
	return kc.entries[i].prefix, true
}

// Append adds a link extending a known key.
//
// Expected errors:
//   - ErrUnknownParent if the parent key is not in the chain
//   - ErrInvalidLink if the signature fails or the prefix is neither the parent's
//     prefix nor a one-bit extension of it, or the key already sits elsewhere
//   - ForkError (ErrForkDetected) if the parent already certified a different key
//     for the same prefix; the incoming key is kept on a discarded branch
//   - ErrDiscardedBranch if the parent lost a fork; the link is kept as discarded
func (kc *KeyChain) Append(link Link) error {
	parent, err := kc.check(link)
	if err != nil {
		return err
	}
	if existing, ok := kc.index[link.Key]; ok {
		e := kc.entries[existing]
		if e.parent == parent && e.prefix == link.Prefix {
			return nil
		}
		return fmt.Errorf("key %s already certified under %s: %w", link.Key.TerminalString(), kc.entries[e.parent].key.TerminalString(), ErrInvalidLink)
	}
	if kc.entries[parent].discarded {
		kc.insert(parent, link, true)
		return fmt.Errorf("link %s: %w", link, ErrDiscardedBranch)
	}
	if sibling, ok := kc.trustedChild(parent, link.Prefix); ok {
		fork := ForkError{
			Prefix:   link.Prefix,
			Parent:   link.ParentKey,
			Existing: kc.entries[sibling].key,
			Incoming: link.Key,
			Retained: kc.entries[sibling].key,
		}
		kc.insert(parent, link, true)
		kc.forks = append(kc.forks, fork)
		return fork
	}
	kc.insert(parent, link, false)
	return nil
}

// check validates a link against its parent and returns the parent's index.
func (kc *KeyChain) check(link Link) (int, error) {
	parent, ok := kc.index[link.ParentKey]
	if !ok {
		return 0, fmt.Errorf("link %s: %w", link, ErrUnknownParent)
	}
	if pp := kc.entries[parent].prefix; !follows(pp, link.Prefix) {
		return 0, fmt.Errorf("link prefix %s does not follow parent prefix %s: %w", link.Prefix.LogString(), pp.LogString(), ErrInvalidLink)
	}
	if err := link.Verify(); err != nil {
		return 0, err
	}
	return parent, nil
}

func (kc *KeyChain) insert(parent int, link Link, discarded bool) int {
	i := len(kc.entries)
	kc.entries = append(kc.entries, entry{
		prefix:    link.Prefix,
		key:       link.Key,
		parent:    parent,
		link:      link,
		depth:     kc.entries[parent].depth + 1,
		discarded: discarded,
	})
	kc.index[link.Key] = i
	kc.children[parent] = append(kc.children[parent], i)
	if !discarded {
		if cur, ok := kc.latest.Get(link.Prefix); !ok || kc.entries[cur].depth < kc.entries[i].depth {
			kc.latest.Add(link.Prefix, i)
		}
	}
	return i
}

func (kc *KeyChain) trustedChild(parent int, prefix overlay.Prefix) (int, bool) {
	for _, c := range kc.children[parent] {
		if kc.entries[c].prefix == prefix && !kc.entries[c].discarded {
			return c, true
		}
	}
	return 0, false
}

// height returns the length of the longest trusted path starting at i.
func (kc *KeyChain) height(i int) int {
	h := 0
	for _, c := range kc.children[i] {
		if kc.entries[c].discarded {
			continue
		}
		if ch := kc.height(c) + 1; ch > h {
			h = ch
		}
	}
	return h
}

func (kc *KeyChain) discard(i int) {
	kc.entries[i].discarded = true
	for _, c := range kc.children[i] {
		kc.discard(c)
	}
}

// Merge appends a proof segment whose first link extends a known key. On a fork
// the longer verified lineage is retained: the incoming segment wins only if it
// extends further than the existing trusted subtree; ties keep the existing
// branch. A ForkError describing the outcome is returned in both cases, after
// the whole segment was stored.
func (kc *KeyChain) Merge(proof []Link) error {
	if err := verifySegment(proof); err != nil {
		return err
	}
	var forkErr error
	for i, link := range proof {
		if kc.IsTrusted(link.Key) {
			continue
		}
		parent, err := kc.check(link)
		if err != nil {
			return err
		}
		if _, ok := kc.index[link.Key]; ok {
			// known but discarded, the rest of the segment stays on that branch
			continue
		}
		if kc.entries[parent].discarded {
			kc.insert(parent, link, true)
			continue
		}
		sibling, ok := kc.trustedChild(parent, link.Prefix)
		if !ok {
			kc.insert(parent, link, false)
			continue
		}
		fork := ForkError{
			Prefix:   link.Prefix,
			Parent:   link.ParentKey,
			Existing: kc.entries[sibling].key,
			Incoming: link.Key,
			Retained: kc.entries[sibling].key,
		}
		incoming := len(proof) - i
		existing := kc.height(sibling) + 1
		if incoming > existing {
			kc.discard(sibling)
			kc.latest.Purge()
			kc.insert(parent, link, false)
			fork.Retained = link.Key
		} else {
			kc.insert(parent, link, true)
		}
		kc.forks = append(kc.forks, fork)
		forkErr = fork
	}
	return forkErr
}

// VerifyAuthority decides whether key may speak for a section. A trusted key is
// accepted directly. Otherwise proof must run forward from a trusted key to key.
// The link leaving the last trusted key must follow that key's certified prefix
// and must not compete with a child the chain already trusts. Superseded keys
// are in the chain and need no proof; keys outside of it cannot be vouched for
// by links they signed themselves.
//
// Expected errors:
//   - ErrBadAuthority if the proof is broken, does not end at key, forks the
//     trusted lineage, or passes through a key discarded by fork resolution
//   - ErrStaleKey if the proof is valid but touches no trusted key, or key is
//     unknown and no proof was given
func (kc *KeyChain) VerifyAuthority(key crypto.PublicKey, proof []Link) error {
	if kc.IsTrusted(key) {
		return nil
	}
	if kc.Has(key) {
		return fmt.Errorf("key %s is on a discarded branch: %w", key.TerminalString(), ErrBadAuthority)
	}
	if len(proof) == 0 {
		return fmt.Errorf("key %s: %w", key.TerminalString(), ErrStaleKey)
	}
	if err := verifySegment(proof); err != nil {
		return err
	}
	if proof[len(proof)-1].Key != key {
		return fmt.Errorf("proof does not end at key %s: %w", key.TerminalString(), ErrBadAuthority)
	}

	anchor := -1
	for i := len(proof) - 1; i >= 0; i-- {
		if kc.IsTrusted(proof[i].ParentKey) {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return fmt.Errorf("proof for key %s touches no trusted key: %w", key.TerminalString(), ErrStaleKey)
	}
	for _, link := range proof[anchor+1:] {
		if kc.Has(link.ParentKey) {
			return fmt.Errorf("proof for key %s passes discarded key %s: %w", key.TerminalString(), link.ParentKey.TerminalString(), ErrBadAuthority)
		}
	}

	link := proof[anchor]
	parent := kc.index[link.ParentKey]
	if pp := kc.entries[parent].prefix; !follows(pp, link.Prefix) {
		return fmt.Errorf("key %s of %s cannot certify prefix %s: %w", link.ParentKey.TerminalString(), pp.LogString(), link.Prefix.LogString(), ErrBadAuthority)
	}
	if sibling, ok := kc.trustedChild(parent, link.Prefix); ok {
		return fmt.Errorf("proof for key %s forks from trusted key %s: %w", key.TerminalString(), kc.entries[sibling].key.TerminalString(), ErrBadAuthority)
	}
	return nil
}

// HasAncestor returns true if ancestor is a trusted key on the path from the
// genesis key to the trusted key. A key is its own ancestor.
func (kc *KeyChain) HasAncestor(key, ancestor crypto.PublicKey) bool {
	i, ok := kc.index[key]
	if !ok || kc.entries[i].discarded {
		return false
	}
	for ; i >= 0; i = kc.entries[i].parent {
		if kc.entries[i].key == ancestor {
			return true
		}
	}
	return false
}

// ProofTo returns the links from the genesis key to key.
func (kc *KeyChain) ProofTo(key crypto.PublicKey) ([]Link, error) {
	return kc.ProofBetween(kc.GenesisKey(), key)
}

// ProofBetween returns the links leading from the trusted key from to the
// trusted key to. from must be an ancestor of to.
func (kc *KeyChain) ProofBetween(from, to crypto.PublicKey) ([]Link, error) {
	i, ok := kc.index[to]
	if !ok || kc.entries[i].discarded {
		return nil, fmt.Errorf("key %s: %w", to.TerminalString(), ErrUnknownKey)
	}
	if _, ok := kc.index[from]; !ok {
		return nil, fmt.Errorf("key %s: %w", from.TerminalString(), ErrUnknownKey)
	}
	var reversed []Link
	for kc.entries[i].key != from {
		if kc.entries[i].parent < 0 {
			return nil, fmt.Errorf("key %s is not an ancestor of %s: %w", from.TerminalString(), to.TerminalString(), ErrUnknownKey)
		}
		reversed = append(reversed, kc.entries[i].link)
		i = kc.entries[i].parent
	}
	proof := make([]Link, len(reversed))
	for j := range reversed {
		proof[j] = reversed[len(reversed)-1-j]
	}
	return proof, nil
}

// LastKey returns the most recent trusted key certified for exactly prefix.
func (kc *KeyChain) LastKey(prefix overlay.Prefix) (crypto.PublicKey, bool) {
	if i, ok := kc.latest.Get(prefix); ok && !kc.entries[i].discarded {
		return kc.entries[i].key, true
	}
	best := -1
	for i, e := range kc.entries {
		if e.prefix != prefix || e.discarded {
			continue
		}
		if best < 0 || e.depth > kc.entries[best].depth {
			best = i
		}
	}
	if best < 0 {
		return crypto.PublicKey{}, false
	}
	kc.latest.Add(prefix, best)
	return kc.entries[best].key, true
}

// Links returns every trusted link in insertion order. Appending them in order
// to a chain with the same genesis key reproduces the trusted part of the chain.
func (kc *KeyChain) Links() []Link {
	links := make([]Link, 0, len(kc.entries)-1)
	for _, e := range kc.entries[1:] {
		if !e.discarded {
			links = append(links, e.link)
		}
	}
	return links
}

// Forks returns the forks detected so far.
func (kc *KeyChain) Forks() []ForkError {
	forks := make([]ForkError, len(kc.forks))
	copy(forks, kc.forks)
	return forks
}
