package cmd

import (
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/config"
	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/section"
	"github.com/onflow/sectionnet/model/overlay"
	bstorage "github.com/onflow/sectionnet/storage/badger"
	"github.com/onflow/sectionnet/utils/unittest"
)

func TestNodeKeyGeneratedOnce(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store, err := bstorage.InitAll(db)
		require.NoError(t, err)

		first, err := nodeKey(unittest.Logger(), store.Identity)
		require.NoError(t, err)
		second, err := nodeKey(unittest.Logger(), store.Identity)
		require.NoError(t, err)
		assert.Equal(t, first.RawPublicKey(), second.RawPublicKey())
	})
}

func TestRelocateRejoinsDestination(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store, err := bstorage.InitAll(db)
		require.NoError(t, err)
		_, err = nodeKey(unittest.Logger(), store.Identity)
		require.NoError(t, err)

		engine := section.DefaultConfig()
		engine.Genesis = true
		b := &nodeBuilder{log: unittest.Logger(), config: config.Default(), engine: engine, store: store}

		key, err := crypto.GenerateNodeKey()
		require.NoError(t, err)
		elders := overlay.PeerList{unittest.PeerFixture(), unittest.PeerFixture()}
		r := section.Relocation{
			NodeKey:     key,
			Destination: overlay.SignedSectionInfo{Info: overlay.SectionInfo{Elders: elders}},
		}
		require.NoError(t, b.relocate(r))

		stored, err := store.Identity.NodeKey()
		require.NoError(t, err)
		assert.Equal(t, key.RawPublicKey(), stored.RawPublicKey())
		assert.False(t, b.engine.Genesis)
		assert.Equal(t, elders, b.engine.Contacts)
		require.NotNil(t, b.engine.Relocation)
	})
}

func TestRelocatorDoesNotBlock(t *testing.T) {
	relocations := make(chan section.Relocation, 1)
	r := relocator(relocations)
	r.Relocated(section.Relocation{})
	r.Relocated(section.Relocation{})
	assert.Len(t, relocations, 1)
}
