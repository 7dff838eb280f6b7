package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/sectionnet/crypto"
)

// InsertSecretShare stores the encoded secret share of a section key.
//
// CAUTION: the share is confidential.
func InsertSecretShare(key crypto.PublicKey, encoded []byte) func(*badger.Txn) error {
	return insert(makePrefix(codeSecretShare, key), encoded)
}

func RetrieveSecretShare(key crypto.PublicKey, encoded *[]byte) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSecretShare, key), encoded)
}

// InsertNodeKey stores the encoded node key.
//
// CAUTION: the key is confidential.
func InsertNodeKey(encoded []byte) func(*badger.Txn) error {
	return insert(makePrefix(codeNodeKey), encoded)
}

func UpsertNodeKey(encoded []byte) func(*badger.Txn) error {
	return upsert(makePrefix(codeNodeKey), encoded)
}

func RetrieveNodeKey(encoded *[]byte) func(*badger.Txn) error {
	return retrieve(makePrefix(codeNodeKey), encoded)
}
