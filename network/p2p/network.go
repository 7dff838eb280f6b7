package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module"
	"github.com/onflow/sectionnet/module/component"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/channels"
	"github.com/onflow/sectionnet/network/codec/cbor"
)

// ErrNotStarted is returned when sending on a network that is not running.
var ErrNotStarted = errors.New("network is not running")

// Config holds the tunables of the libp2p network.
type Config struct {
	// StreamTimeout bounds dialing and writing one message.
	StreamTimeout time.Duration
	// DialRetries is the number of additional dial attempts per message.
	DialRetries uint64
	// DialBackoff is the delay before the first retry, doubled on every retry.
	DialBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		StreamTimeout: 10 * time.Second,
		DialRetries:   2,
		DialBackoff:   50 * time.Millisecond,
	}
}

// Network sends messages over libp2p streams. Sends return before the message
// is written; delivery failures are logged and counted.
type Network struct {
	*component.ComponentManager
	log     zerolog.Logger
	config  Config
	host    host.Host
	me      overlay.Peer
	codec   *cbor.Codec
	metrics module.NetworkMetrics

	mu         sync.RWMutex
	processors map[channels.Channel]network.MessageProcessor
	ctx        context.Context
	sends      sync.WaitGroup
}

var _ network.Network = (*Network)(nil)

// NewNetwork wraps a host. The host is closed when the network shuts down.
func NewNetwork(log zerolog.Logger, config Config, h host.Host, codec *cbor.Codec, metrics module.NetworkMetrics) (*Network, error) {
	me, err := PeerFromHost(h)
	if err != nil {
		return nil, err
	}
	n := &Network{
		log:        log.With().Str("component", "p2p_network").Str("node", me.ID.TerminalString()).Logger(),
		config:     config,
		host:       h,
		me:         me,
		codec:      codec,
		metrics:    metrics,
		processors: make(map[channels.Channel]network.MessageProcessor),
	}
	n.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(n.run).
		Build()
	return n, nil
}

// Me returns the overlay peer of the local host.
func (n *Network) Me() overlay.Peer {
	return n.me
}

func (n *Network) run(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	n.mu.Lock()
	n.ctx = ctx
	n.mu.Unlock()
	n.log.Info().Str("address", n.me.Address).Msg("libp2p network started")
	ready()

	<-ctx.Done()
	n.sends.Wait()
	if err := n.host.Close(); err != nil {
		n.log.Warn().Err(err).Msg("could not close libp2p host")
	}
}

// Register implements network.Network.
func (n *Network) Register(channel channels.Channel, processor network.MessageProcessor) (network.Conduit, error) {
	if !channels.Valid(channel) {
		return nil, fmt.Errorf("unknown channel %s", channel)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.processors[channel]; ok {
		return nil, network.ChannelTakenError{Channel: channel}
	}
	n.processors[channel] = processor
	n.host.SetStreamHandler(ProtocolID(channel), func(s libp2pnet.Stream) {
		n.handleStream(channel, s)
	})
	return &Conduit{channel: channel, net: n, closed: atomic.NewBool(false)}, nil
}

func (n *Network) unregister(channel channels.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.host.RemoveStreamHandler(ProtocolID(channel))
	delete(n.processors, channel)
}

func (n *Network) processor(channel channels.Channel) (network.MessageProcessor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.processors[channel]
	return p, ok
}

// send encodes the message once and writes it to every target on its own
// goroutine. Targets whose address cannot be resolved are reported together.
func (n *Network) send(channel channels.Channel, message interface{}, targets overlay.PeerList) error {
	n.mu.RLock()
	ctx := n.ctx
	n.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return ErrNotStarted
	}

	data, err := n.codec.Encode(message)
	if err != nil {
		return fmt.Errorf("could not encode message: %w", err)
	}
	var result *multierror.Error
	for _, target := range targets {
		if target.ID == n.me.ID {
			continue
		}
		info, err := AddrInfo(target)
		if err != nil {
			n.metrics.NetworkSendFailed(channel.String())
			result = multierror.Append(result, fmt.Errorf("%v: %w", err, network.ErrUnknownPeer))
			continue
		}
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)

		n.sends.Add(1)
		go func(target overlay.Peer) {
			defer n.sends.Done()
			if err := n.write(ctx, channel, target, data); err != nil {
				n.metrics.NetworkSendFailed(channel.String())
				n.log.Debug().Err(err).
					Str("channel", channel.String()).
					Str("target", target.ID.TerminalString()).
					Msg("could not send message")
				return
			}
			n.metrics.NetworkMessageSent(len(data), channel.String())
		}(target)
	}
	return result.ErrorOrNil()
}

// write opens a stream to target and writes one message, retrying the dial
// with exponential backoff.
func (n *Network) write(ctx context.Context, channel channels.Channel, target overlay.Peer, data []byte) error {
	info, err := AddrInfo(target)
	if err != nil {
		return err
	}
	backoff := retry.WithMaxRetries(n.config.DialRetries, retry.NewExponential(n.config.DialBackoff))

	var stream libp2pnet.Stream
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, n.config.StreamTimeout)
		defer cancel()
		if err := n.host.Connect(dialCtx, info); err != nil {
			return retry.RetryableError(fmt.Errorf("could not connect: %w", err))
		}
		s, err := n.host.NewStream(dialCtx, info.ID, ProtocolID(channel))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("could not open stream: %w", err))
		}
		stream = s
		return nil
	})
	if err != nil {
		return err
	}

	if err := stream.SetWriteDeadline(time.Now().Add(n.config.StreamTimeout)); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("could not set write deadline: %w", err)
	}
	if err := n.codec.NewEncoder(stream).EncodeBytes(data); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("could not write message: %w", err)
	}
	return stream.Close()
}

// handleStream reads every message of an inbound stream and hands it to the
// processor of the channel. The origin is the identity the stream was
// authenticated with.
func (n *Network) handleStream(channel channels.Channel, s libp2pnet.Stream) {
	defer s.Close()

	raw, err := s.Conn().RemotePublicKey().Raw()
	if err != nil {
		n.log.Warn().Err(err).Msg("could not read remote public key")
		_ = s.Reset()
		return
	}
	origin := overlay.IdentifierFromPublicKey(raw)
	log := n.log.With().Str("channel", channel.String()).Str("origin", origin.TerminalString()).Logger()

	dec := n.codec.NewDecoder(s)
	for {
		data, err := dec.DecodeBytes()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Debug().Err(err).Msg("could not read message")
			_ = s.Reset()
			return
		}
		n.metrics.NetworkMessageReceived(len(data), channel.String())

		processor, ok := n.processor(channel)
		if !ok {
			log.Debug().Msg("dropping message for unregistered channel")
			return
		}
		message, err := n.codec.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("could not decode message")
			continue
		}
		if err := processor.Process(channel, origin, message); err != nil {
			log.Debug().Err(err).Msg("message processing failed")
		}
	}
}
