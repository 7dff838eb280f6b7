package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/onflow/sectionnet/config"
	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/section"
	"github.com/onflow/sectionnet/module/component"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/module/membership"
	"github.com/onflow/sectionnet/module/metrics"
	"github.com/onflow/sectionnet/module/util"
	"github.com/onflow/sectionnet/network/codec/cbor"
	"github.com/onflow/sectionnet/network/p2p"
	"github.com/onflow/sectionnet/storage"
	bstorage "github.com/onflow/sectionnet/storage/badger"
)

// errRelocated restarts the node under the identity its section relocated it to.
var errRelocated = errors.New("node relocated")

func run(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cmd.Flags(), flagConfigFile)
	if err != nil {
		return err
	}
	log := newLogger(c.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(c.DataDir).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()
	store, err := bstorage.InitAll(db)
	if err != nil {
		return fmt.Errorf("could not initialize storage: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	if c.MetricsPort > 0 {
		server := metrics.NewServer(log, c.MetricsPort, registry, c.Profiler)
		serverCtx, errs := irrecoverable.WithSignaler(ctx)
		server.Start(serverCtx)
		if err := util.WaitError(errs, server.Ready()); err != nil {
			return err
		}
		defer func() { <-server.Done() }()
	}

	engineConfig, err := c.Engine()
	if err != nil {
		return err
	}
	var prover membership.ResourceProver = membership.NoopProver{}
	if c.ResourceProofDifficulty > 0 {
		prover = membership.HashcashProver{Difficulty: c.ResourceProofDifficulty}
	}

	builder := &nodeBuilder{
		log:       log,
		config:    c,
		engine:    engineConfig,
		store:     store,
		prover:    prover,
		collector: collector,
	}
	err = component.RunComponent(ctx, builder.build, func(err error) component.ErrorHandlingResult {
		if errors.Is(err, errRelocated) {
			log.Info().Msg("restarting under relocated identity")
			return component.ErrorHandlingRestart
		}
		log.Error().Err(err).Msg("node failed")
		return component.ErrorHandlingStop
	})
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("node shut down")
		return nil
	}
	return err
}

// nodeBuilder creates the node component, again after every relocation.
type nodeBuilder struct {
	log       zerolog.Logger
	config    config.Config
	engine    section.Config
	store     *storage.All
	prover    membership.ResourceProver
	collector *metrics.Collector
}

func (b *nodeBuilder) build() (component.Component, error) {
	key, err := nodeKey(b.log, b.store.Identity)
	if err != nil {
		return nil, err
	}
	h, err := p2p.NewHost(key, b.config.ListenAddr)
	if err != nil {
		return nil, err
	}
	codec := cbor.NewCodec()
	net, err := p2p.NewNetwork(b.log, b.config.Network, h, codec, b.collector)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	relocations := make(chan section.Relocation, 1)
	engine, err := section.New(b.log, b.engine, net, net.Me(), key, codec, b.store, b.prover, b.collector)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	engine.WithRelocator(relocator(relocations))
	b.log.Info().
		Str("node_id", net.Me().ID.String()).
		Str("address", net.Me().Address).
		Msg("node starting up")

	return component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			// the next start listens on the same address
			defer func() { <-util.AllDone(engine, net) }()
			net.Start(ctx)
			engine.Start(ctx)
			<-util.AllReady(net, engine)
			ready()

			select {
			case <-ctx.Done():
			case r := <-relocations:
				if err := b.relocate(r); err != nil {
					ctx.Throw(err)
				}
				ctx.Throw(errRelocated)
			}
		}).
		Build(), nil
}

// relocate persists the new identity and joins the destination section with
// the relocation credentials on the next start.
func (b *nodeBuilder) relocate(r section.Relocation) error {
	if err := b.store.Identity.ReplaceNodeKey(r.NodeKey); err != nil {
		return fmt.Errorf("could not store relocated node key: %w", err)
	}
	details := r.Details
	b.engine.Relocation = &details
	b.engine.Contacts = r.Destination.Info.Elders
	b.engine.Genesis = false
	return nil
}

type relocator chan section.Relocation

func (r relocator) Relocated(relocation section.Relocation) {
	select {
	case r <- relocation:
	default:
	}
}

// nodeKey returns the stored node key, generating one on first start.
func nodeKey(log zerolog.Logger, identity storage.Identity) (crypto.NodeKey, error) {
	key, err := identity.NodeKey()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return crypto.NodeKey{}, fmt.Errorf("could not read node key: %w", err)
	}
	key, err = crypto.GenerateNodeKey()
	if err != nil {
		return crypto.NodeKey{}, fmt.Errorf("could not generate node key: %w", err)
	}
	if err := identity.StoreNodeKey(key); err != nil {
		return crypto.NodeKey{}, fmt.Errorf("could not store node key: %w", err)
	}
	log.Info().Msg("generated new node key")
	return key, nil
}
