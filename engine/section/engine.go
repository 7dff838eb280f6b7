// Package section implements the section engine: the per-node event loop
// driving joins, membership agreement, elder changes, splits, section sync
// and routing of envelopes.
package section

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine"
	"github.com/onflow/sectionnet/engine/common/fifoqueue"
	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module"
	"github.com/onflow/sectionnet/module/component"
	"github.com/onflow/sectionnet/module/dkg"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/module/membership"
	"github.com/onflow/sectionnet/module/metrics"
	"github.com/onflow/sectionnet/module/prefixmap"
	"github.com/onflow/sectionnet/module/signature"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/channels"
	"github.com/onflow/sectionnet/storage"
)

// Status is a snapshot of the state of the engine, published after every event.
type Status struct {
	Joined        bool
	Prefix        overlay.Prefix
	Generation    uint64
	Elder         bool
	Elders        overlay.PeerList
	Members       int
	Joining       int
	SectionKey    crypto.PublicKey
	KnownSections int
	ChainLength   int
	Degraded      bool
}

// Relocation is handed to the Relocator when the section agreed to move the
// node. The node has to restart under NodeKey and join the destination
// section presenting Details.
type Relocation struct {
	NodeKey     crypto.NodeKey
	Details     messages.RelocateDetails
	Destination overlay.SignedSectionInfo
}

// Relocator restarts a relocated node under its new identity.
type Relocator interface {
	Relocated(relocation Relocation)
}

// election is the elder change computed at one section generation.
type election struct {
	generation uint64
	candidates []membership.Candidate
	proposed   map[overlay.Prefix]struct{}
}

func (el *election) candidate(prefix overlay.Prefix) (membership.Candidate, bool) {
	for _, c := range el.candidates {
		if c.Prefix == prefix {
			return c, true
		}
	}
	return membership.Candidate{}, false
}

// startRequest collects the current elders asking for a DKG session.
type startRequest struct {
	msg     *messages.DKGStart
	elders  overlay.PeerList
	askedBy map[overlay.Identifier]struct{}
	started bool
}

// Engine runs the section protocol of one node. Network messages and local
// events are queued and processed by a single worker, which owns the key
// chain, the prefix map and the section membership. Signature checks run on a
// worker pool and their results are applied in arrival order.
type Engine struct {
	*component.ComponentManager
	log     zerolog.Logger
	config  Config
	me      overlay.Peer
	key     crypto.NodeKey
	codec   network.Codec
	store   *storage.All
	prover  membership.ResourceProver
	metrics module.NodeMetrics
	con     network.Conduit

	inbound  *fifoqueue.FifoQueue // envelopes from the network
	internal *fifoqueue.FifoQueue // verification results, timers and local events
	notifier engine.Notifier
	pool     *workerpool.WorkerPool
	timers   *scheduler

	validator   *routing.Validator
	dispatcher  *routing.Dispatcher
	coordinator *dkg.Coordinator
	deliverer   routing.Deliverer
	relocator   Relocator

	// owned by the processing loop
	chain       *keychain.KeyChain
	sections    *prefixmap.PrefixMap
	section     *membership.Section
	signer      *signature.ShareSigner
	votes       *signature.ThresholdAggregator
	outcomes    *signature.ThresholdAggregator
	proposed    map[overlay.Identifier]struct{}
	voted       map[overlay.Identifier]struct{}
	shares      map[crypto.PublicKey]crypto.SecretKeyShare
	agreedInfos map[crypto.PublicKey]overlay.SignedSectionInfo
	election    *election
	starts      map[messages.DKGSessionID]*startRequest
	join        *joinState
	early       []message
	relocated   bool
	seq         uint64
	nextApply   uint64
	reorder     map[uint64]verifiedEvent
	fatalErr    error

	// peers asked for a sync since the last sync round
	syncRequested map[overlay.Identifier]struct{}

	joined     chan struct{}
	joinedOnce sync.Once
	joinErr    *atomic.Error
	status     *atomic.Pointer[Status]
}

var _ network.MessageProcessor = (*Engine)(nil)

// maxEarlyMessages bounds the DKG starts kept while the node is still joining.
const maxEarlyMessages = 64

// New creates the section engine of the node me, identified by key, and
// registers it on the section channel of net.
func New(
	log zerolog.Logger,
	config Config,
	net network.Network,
	me overlay.Peer,
	key crypto.NodeKey,
	codec network.Codec,
	store *storage.All,
	prover membership.ResourceProver,
	collector module.NodeMetrics,
) (*Engine, error) {
	if id := overlay.IdentifierFromPublicKey(key.RawPublicKey()); id != me.ID {
		return nil, fmt.Errorf("node key belongs to %s, not %s", id.TerminalString(), me.ID.TerminalString())
	}

	e := &Engine{
		log:           log.With().Str("engine", metrics.EngineSection).Str("node", me.ID.TerminalString()).Logger(),
		config:        config,
		me:            me,
		key:           key,
		codec:         codec,
		store:         store,
		prover:        prover,
		metrics:       collector,
		notifier:      engine.NewNotifier(),
		pool:          workerpool.New(config.VerifyWorkers),
		validator:     routing.NewValidator(codec, collector),
		votes:         signature.NewThresholdAggregator(config.AggregationLimit),
		outcomes:      signature.NewThresholdAggregator(config.AggregationLimit),
		proposed:      make(map[overlay.Identifier]struct{}),
		voted:         make(map[overlay.Identifier]struct{}),
		shares:        make(map[crypto.PublicKey]crypto.SecretKeyShare),
		agreedInfos:   make(map[crypto.PublicKey]overlay.SignedSectionInfo),
		starts:        make(map[messages.DKGSessionID]*startRequest),
		reorder:       make(map[uint64]verifiedEvent),
		syncRequested: make(map[overlay.Identifier]struct{}),
		joined:        make(chan struct{}),
		joinErr:       atomic.NewError(nil),
		status:        atomic.NewPointer[Status](&Status{}),
	}

	var err error
	e.inbound, err = fifoqueue.NewFifoQueue(
		fifoqueue.WithCapacity(config.InboundQueueCapacity),
		fifoqueue.WithLengthObserver(func(n int) { collector.InboundQueueLength(n) }),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create inbound queue: %w", err)
	}
	e.internal, err = fifoqueue.NewFifoQueue()
	if err != nil {
		return nil, fmt.Errorf("could not create internal queue: %w", err)
	}
	e.dispatcher, err = routing.NewDispatcher(me.ID, config.SeenCacheSize, collector)
	if err != nil {
		return nil, err
	}
	e.timers = newScheduler(e.pushInternal)
	e.coordinator = dkg.NewCoordinator(e.log, me.ID, config.DKG, &broker{e: e}, e.timers, &consumer{e: e}, collector)

	e.con, err = net.Register(channels.Section, e)
	if err != nil {
		return nil, fmt.Errorf("could not register section engine: %w", err)
	}

	e.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(e.processEventsLoop).
		Build()
	return e, nil
}

// WithDeliverer sets the receiver of payloads the overlay does not handle
// itself. It must be called before the engine starts.
func (e *Engine) WithDeliverer(deliverer routing.Deliverer) *Engine {
	e.deliverer = deliverer
	return e
}

// WithRelocator sets the handler of agreed relocations of the node. Without
// one the node stops taking part in the protocol once relocated.
func (e *Engine) WithRelocator(relocator Relocator) *Engine {
	e.relocator = relocator
	return e
}

// Me returns the local peer.
func (e *Engine) Me() overlay.Peer {
	return e.me
}

// Joined returns a channel closed once the node joined a section or gave up
// joining. JoinErr tells which.
func (e *Engine) Joined() <-chan struct{} {
	return e.joined
}

// JoinErr returns the reason joining failed, or nil.
func (e *Engine) JoinErr() error {
	return e.joinErr.Load()
}

// Status returns the latest published status.
func (e *Engine) Status() Status {
	return *e.status.Load()
}

// Process queues an envelope received on the section channel.
func (e *Engine) Process(channel channels.Channel, originID overlay.Identifier, event interface{}) error {
	env, ok := event.(*messages.Envelope)
	if !ok {
		e.metrics.InboundMessageDropped(metrics.EngineSection, messageName(event))
		return fmt.Errorf("unexpected message %T on channel %s", event, channel)
	}
	e.metrics.MessageReceived(metrics.EngineSection, messageName(env))
	if !e.inbound.Push(inboundEvent{origin: originID, env: env}) {
		e.metrics.InboundMessageDropped(metrics.EngineSection, messageName(env))
		return fmt.Errorf("inbound queue full, dropping %s", env)
	}
	e.notifier.Notify()
	return nil
}

func (e *Engine) pushInternal(event interface{}) {
	e.internal.Push(event)
	e.notifier.Notify()
}

func (e *Engine) pushLocal(payload interface{}) {
	e.pushInternal(localEvent{payload: payload})
}

// throw records an irrecoverable error raised where no error can be returned.
// The loop throws it once the current event is handled.
func (e *Engine) throw(err error) {
	if e.fatalErr == nil {
		e.fatalErr = err
	}
}

func (e *Engine) processEventsLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	defer e.shutdown()
	if err := e.bootstrap(); err != nil {
		ctx.Throw(fmt.Errorf("could not bootstrap section engine: %w", err))
		return
	}
	e.publishStatus()
	e.timers.after(e.config.HeartbeatInterval, heartbeatEvent{})
	e.timers.after(e.config.SyncInterval, syncEvent{})
	ready()

	doneSignal := ctx.Done()
	newEventSignal := e.notifier.Channel()
	for {
		select {
		case <-doneSignal:
			return
		case <-newEventSignal:
			err := e.processQueuedEvents(ctx) // no errors expected during normal operations
			if err != nil {
				ctx.Throw(err)
				return
			}
		}
	}
}

// processQueuedEvents handles queued events until both queues are empty.
// Internal events go first, so verification results are not starved by new
// envelopes. All returned errors are symptoms of corrupted state or storage
// failures and are fatal.
func (e *Engine) processQueuedEvents(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		event, ok := e.internal.Pop()
		if !ok {
			event, ok = e.inbound.Pop()
		}
		if !ok {
			return nil
		}
		if err := e.handleEvent(event); err != nil {
			return err
		}
		if e.fatalErr != nil {
			return e.fatalErr
		}
		e.publishStatus()
	}
}

func (e *Engine) handleEvent(event interface{}) error {
	switch ev := event.(type) {
	case inboundEvent:
		e.submit(ev)
	case verifiedEvent:
		e.reorder[ev.seq] = ev
		for {
			next, ok := e.reorder[e.nextApply]
			if !ok {
				break
			}
			delete(e.reorder, e.nextApply)
			e.nextApply++
			e.onVerified(next)
		}
	case localEvent:
		e.handlePayload(message{source: e.me.ID, payload: ev.payload, shareVerified: true})
	case dkgTimerEvent:
		e.coordinator.OnTimer(ev.timer)
	case joinTimerEvent:
		e.onJoinTimer(ev)
	case admissionTimerEvent:
		e.onAdmissionTimer(ev)
	case heartbeatEvent:
		e.onHeartbeatTick()
		e.timers.after(e.config.HeartbeatInterval, heartbeatEvent{})
	case syncEvent:
		e.requestSync()
		e.timers.after(e.config.SyncInterval, syncEvent{})
	case sendEvent:
		ev.done <- e.send(ev)
	default:
		return fmt.Errorf("unexpected event type %T", event)
	}
	return nil
}

func (e *Engine) shutdown() {
	e.timers.stop()
	e.pool.StopWait()
	if err := e.con.Close(); err != nil {
		e.log.Warn().Err(err).Msg("could not close section conduit")
	}
	e.log.Info().Msg("section engine stopped")
}

func (e *Engine) isElder() bool {
	return e.section != nil && e.signer != nil && e.section.IsElder(e.me.ID)
}

// otherElders returns the elders of our section except ourselves.
func (e *Engine) otherElders() overlay.PeerList {
	return e.section.Elders().Filter(func(p overlay.Peer) bool { return p.ID != e.me.ID })
}

func (e *Engine) publishStatus() {
	s := &Status{}
	if e.chain != nil {
		s.ChainLength = e.chain.Len()
		s.KnownSections = e.sections.Len()
	}
	if e.section != nil {
		info := e.section.Info()
		s.Joined = true
		s.Prefix = info.Prefix()
		s.Generation = e.section.Generation()
		s.Elder = e.isElder()
		s.Elders = info.Info.Elders
		s.Members = e.section.Len()
		s.Joining = e.section.Joining()
		s.SectionKey = info.Key()
		s.Degraded = e.section.Degraded()
	}
	e.status.Store(s)
}

// markJoined releases the waiters of Joined. err is nil on success.
func (e *Engine) markJoined(err error) {
	e.joinedOnce.Do(func() {
		if err != nil {
			e.joinErr.Store(err)
		}
		close(e.joined)
	})
}
