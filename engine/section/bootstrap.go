package section

import (
	"errors"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/module/membership"
	"github.com/onflow/sectionnet/module/prefixmap"
	"github.com/onflow/sectionnet/module/signature"
	"github.com/onflow/sectionnet/storage"
)

// bootstrap restores the stored state of the node. A node without state
// starts the network when configured as genesis node, and joins it otherwise.
func (e *Engine) bootstrap() error {
	if !e.config.GenesisKey.IsZero() {
		e.trust(e.config.GenesisKey)
	}
	restored, err := e.restore()
	if err != nil {
		return err
	}
	if restored {
		return nil
	}
	if e.config.Genesis {
		return e.genesis()
	}
	e.startJoin(e.config.Contacts)
	return nil
}

// trust roots the key chain at the genesis key.
func (e *Engine) trust(genesis crypto.PublicKey) {
	e.chain = keychain.New(genesis)
	e.sections = prefixmap.New(e.chain)
	e.log.Info().Str("genesis_key", genesis.TerminalString()).Msg("trusting genesis key")
}

// restore rebuilds the key chain and the prefix map from storage. A node that
// was the sole elder of the network resumes its section, any other node joins
// again through the sections it knows. It returns false if nothing was stored.
func (e *Engine) restore() (bool, error) {
	links, err := e.store.Links.All()
	if err != nil {
		return false, fmt.Errorf("could not read key chain: %w", err)
	}
	infos, err := e.store.Sections.All()
	if err != nil {
		return false, fmt.Errorf("could not read sections: %w", err)
	}

	var genesis crypto.PublicKey
	switch {
	case len(links) > 0:
		genesis = links[0].ParentKey
	default:
		for _, info := range infos {
			if info.Prefix() == overlay.RootPrefix {
				genesis = info.Key()
			}
		}
	}
	if genesis.IsZero() {
		return false, nil
	}
	if e.chain != nil && e.chain.GenesisKey() != genesis {
		return false, fmt.Errorf("stored key chain starts at %s, not at the configured genesis key %s",
			genesis.TerminalString(), e.chain.GenesisKey().TerminalString())
	}
	if e.chain == nil {
		e.trust(genesis)
	}

	for _, link := range links {
		err := e.chain.Append(link)
		if _, fork := keychain.IsForkError(err); fork || errors.Is(err, keychain.ErrDiscardedBranch) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("could not replay link %s: %w", link, err)
		}
	}
	for _, info := range infos {
		if err := e.sections.InsertOrUpdate(info); err != nil {
			e.log.Debug().Err(err).Str("prefix", info.Prefix().LogString()).Msg("dropping stored section")
		}
	}
	e.metrics.KeyChainLength(e.chain.Len())
	e.metrics.KnownSections(e.sections.Len())
	e.log.Info().
		Int("links", len(links)).
		Int("sections", e.sections.Len()).
		Msg("restored section knowledge")

	ours, err := e.sections.Lookup(e.me.ID)
	if err == nil && len(ours.Info.Elders) == 1 && ours.Info.Elders[0].ID == e.me.ID {
		share, err := e.store.Shares.ByKey(ours.Key())
		switch {
		case err == nil:
			return true, e.resume(ours, share)
		case !errors.Is(err, storage.ErrNotFound):
			return false, fmt.Errorf("could not read key share: %w", err)
		}
	}

	contacts := append(overlay.PeerList{}, e.config.Contacts...)
	if err == nil {
		contacts = append(contacts, ours.Info.Elders...)
	}
	for _, info := range e.sections.All() {
		contacts = append(contacts, info.Info.Elders...)
	}
	e.startJoin(contacts)
	return true, nil
}

// genesis starts a new network. The node becomes the sole elder of the root
// section, holding the whole genesis key.
func (e *Engine) genesis() error {
	keys, shares := crypto.GenerateKeySet(1, 1, nil)
	share := shares[0]
	if e.chain != nil && e.chain.GenesisKey() != keys.PublicKey() {
		return fmt.Errorf("cannot start a network under the pinned genesis key %s", e.chain.GenesisKey().TerminalString())
	}
	e.trust(keys.PublicKey())

	info := overlay.SectionInfo{
		Prefix: overlay.RootPrefix,
		Elders: overlay.PeerList{e.me},
		KeySet: keys,
	}
	sig, err := signSingle(keys, share, info.SigningBytes())
	if err != nil {
		return fmt.Errorf("could not sign genesis section: %w", err)
	}
	if err := e.store.Shares.Store(keys.PublicKey(), share); err != nil {
		return fmt.Errorf("could not store genesis key share: %w", err)
	}
	e.log.Info().Str("section_key", keys.PublicKey().TerminalString()).Msg("starting new network")
	return e.resume(overlay.SignedSectionInfo{Info: info, Signature: sig}, share)
}

// resume makes the node the sole elder and member of the section info it
// holds the whole key of.
func (e *Engine) resume(info overlay.SignedSectionInfo, share crypto.SecretKeyShare) error {
	keys := info.Info.KeySet
	state := overlay.NodeState{Peer: e.me, Age: e.config.Membership.JoinAge, State: overlay.StateJoined}
	sig, err := signSingle(keys, share, state.SigningBytes())
	if err != nil {
		return fmt.Errorf("could not sign own node state: %w", err)
	}
	own := overlay.SignedNodeState{State: state, SectionKey: keys.PublicKey(), Signature: sig}
	section, err := membership.NewSection(e.config.Membership, e.prover, info, []overlay.SignedNodeState{own})
	if err != nil {
		return fmt.Errorf("could not create section: %w", err)
	}
	e.shares[info.Key()] = share
	return e.becomeMember(section)
}

// signSingle produces a section signature from the only share a key needs.
func signSingle(keys crypto.PublicKeySet, share crypto.SecretKeyShare, msg []byte) (crypto.Signature, error) {
	sigShare, err := share.Sign(msg)
	if err != nil {
		return nil, err
	}
	return keys.Combine(msg, []crypto.SignatureShare{sigShare})
}

// becomeMember installs the section the node joined or resumed.
func (e *Engine) becomeMember(section *membership.Section) error {
	e.section = section
	e.join = nil
	if _, err := e.insertSection(section.Info()); err != nil {
		return err
	}
	e.rebuildSigner()
	e.log.Info().
		Str("prefix", section.Prefix().LogString()).
		Int("members", section.Len()).
		Bool("elder", e.isElder()).
		Msg("joined section")
	e.reportSection()
	e.markJoined(nil)

	early := e.early
	e.early = nil
	for _, m := range early {
		e.handlePayload(m)
	}
	e.maybeElderChange()
	return nil
}

// rebuildSigner picks up the key share of the current section key, if we
// hold one.
func (e *Engine) rebuildSigner() {
	e.signer = nil
	info := e.section.Info()
	if !info.Info.IsElder(e.me.ID) {
		return
	}
	share, ok := e.shares[info.Key()]
	if !ok {
		stored, err := e.store.Shares.ByKey(info.Key())
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				e.throw(fmt.Errorf("could not read key share: %w", err))
			}
			e.log.Warn().Str("section_key", info.Key().TerminalString()).Msg("elder without key share")
			return
		}
		share = stored
		e.shares[info.Key()] = share
	}
	signer, err := signature.NewShareSigner(info.Info.KeySet, share)
	if err != nil {
		e.log.Error().Err(err).Msg("key share does not match section key")
		return
	}
	index, _ := info.Info.ElderIndex(e.me.ID)
	if signer.Index() != index {
		e.log.Error().Int("share", signer.Index()).Int("elder", index).Msg("key share index does not match elder position")
		return
	}
	e.signer = signer
}

// reportSection updates the section metrics.
func (e *Engine) reportSection() {
	e.metrics.SectionSize(e.section.Len(), len(e.section.Elders()))
	e.metrics.PrefixLength(e.section.Prefix().Len())
	e.metrics.KnownSections(e.sections.Len())
	e.metrics.KeyChainLength(e.chain.Len())
}
