package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/sectionnet/model/overlay"
)

func UpsertSection(info overlay.SignedSectionInfo) func(*badger.Txn) error {
	return upsert(makePrefix(codeSection, info.Prefix()), info)
}

func RetrieveSection(prefix overlay.Prefix, info *overlay.SignedSectionInfo) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSection, prefix), info)
}

func RemoveSection(prefix overlay.Prefix) func(*badger.Txn) error {
	return remove(makePrefix(codeSection, prefix))
}

func RetrieveSections(infos *[]overlay.SignedSectionInfo) func(*badger.Txn) error {
	var info overlay.SignedSectionInfo
	create := func() interface{} {
		info = overlay.SignedSectionInfo{}
		return &info
	}
	handle := func() error {
		*infos = append(*infos, info)
		return nil
	}
	return traverse(makePrefix(codeSection), create, handle)
}
