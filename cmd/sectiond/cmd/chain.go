package cmd

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/spf13/cobra"

	"github.com/onflow/sectionnet/config"
	"github.com/onflow/sectionnet/crypto"
	bstorage "github.com/onflow/sectionnet/storage/badger"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Print the key chain and the sections stored by a node",
	RunE:  printChain,
}

func printChain(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cmd.Flags(), flagConfigFile)
	if err != nil {
		return err
	}
	db, err := badger.Open(badger.DefaultOptions(c.DataDir).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()

	links, err := bstorage.NewLinks(db)
	if err != nil {
		return err
	}
	defer links.Close()
	stored, err := links.All()
	if err != nil {
		return fmt.Errorf("could not read links: %w", err)
	}
	sections, err := bstorage.NewSections(db).All()
	if err != nil {
		return fmt.Errorf("could not read sections: %w", err)
	}

	var genesis crypto.PublicKey
	switch {
	case len(stored) > 0:
		genesis = stored[0].ParentKey
	default:
		for _, info := range sections {
			if info.Prefix().Len() == 0 {
				genesis = info.Key()
			}
		}
	}
	if genesis.IsZero() {
		fmt.Fprintln(cmd.OutOrStdout(), "no key chain stored")
		return nil
	}

	chain, err := bstorage.Restore(genesis, links)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "genesis %s\n", genesis)
	for _, link := range chain.Links() {
		fmt.Fprintf(out, "link %s\n", link)
	}
	for _, fork := range chain.Forks() {
		fmt.Fprintf(out, "fork %s\n", fork.Error())
	}
	fmt.Fprintf(out, "%d sections\n", len(sections))
	for _, info := range sections {
		fmt.Fprintf(out, "  %s\n", info.Info)
	}
	return nil
}
