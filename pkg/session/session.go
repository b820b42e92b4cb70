// Package session implements the HyperBloom duplex byte adapter: the
// frame parser, the Session state machine, handshake emission and
// verification, chain shortening/extension, and the post-secure send
// queue. It performs no I/O and owns no goroutines; a caller drives it
// by feeding inbound chunks to Write and consuming outbound chunks
// from the OnPush callback.
package session

import (
	"crypto/subtle"
	"errors"

	"github.com/hyperbloom/engine/pkg/cryptoadapter"
	"github.com/hyperbloom/engine/pkg/protocol"
	"github.com/hyperbloom/engine/pkg/trust"
	"github.com/sirupsen/logrus"
)

// HandshakeState names where a Session sits in the invariant
// progression Init -> OpenSent -> OpenReceived -> HandshakeSent ->
// Secure. It exists for introspection (pkg/statusapi); the Session
// itself only branches on the underlying booleans.
type HandshakeState int

const (
	StateInit HandshakeState = iota
	StateOpenSent
	StateOpenReceived
	StateHandshakeSent
	StateSecure
)

func (s HandshakeState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpenSent:
		return "open-sent"
	case StateOpenReceived:
		return "open-received"
	case StateHandshakeSent:
		return "handshake-sent"
	case StateSecure:
		return "secure"
	default:
		return "unknown"
	}
}

// Verifier is the narrow trust-chain contract Session depends on;
// *trust.Verifier satisfies it. Injected so tests can substitute a
// fake without pulling in real Ed25519/BLAKE2b, critical for
// deterministic testing.
type Verifier interface {
	Walk(rootPublicKey []byte, chain [][]byte) (*trust.WalkResult, error)
	VerifyHandshake(feedKey []byte, chain [][]byte, signedHash, signature []byte) error
	SelfTest(feedKey []byte, chain [][]byte, privateKey []byte) error
	IssueShorteningLink(privateKey, remoteTerminal []byte, remoteMinExpiration uint64) (*trust.Link, error)
	VerifyExtension(feedKey []byte, candidate [][]byte, ownPrivateKey []byte) error
}

// Options supplies or completes a Session's credentials via Start.
type Options struct {
	FeedKey      []byte   // required, 32 B
	PrivateKey   []byte   // required, 64 B
	Chain        [][]byte // required, 0..MaxChainLength opaque encoded links
	DiscoveryKey []byte   // optional, 32 B; derived from FeedKey if absent
	ID           []byte   // optional, 32 B; random if absent
}

// Message is delivered to OnMessage for every decoded frame after
// Secure except Link (which drives chain extension internally and
// never surfaces as a user message).
type Message struct {
	Kind          protocol.MessageKind
	Sync          *protocol.Sync
	FilterOptions *protocol.FilterOptions
	Data          *protocol.Data
	Request       *protocol.Request
}

// SecureInfo is passed to OnSecure once the remote handshake verifies.
type SecureInfo struct {
	ID    []byte
	Chain [][]byte
}

// pendingSend is one deferred outbound operation captured by a send
// method called before Secure; drainSendQueue replays it in queue order.
type pendingSend func() error

// Session is the duplex adapter driving one HyperBloom peer connection.
// It is not safe for concurrent use from multiple goroutines; like the
// parser it drives, all methods are meant to be called from one
// serialized event loop.
type Session struct {
	Log *logrus.Entry

	// Event callbacks. Nil fields are simply not invoked.
	OnOpen        func(open *protocol.Open)
	OnSecure      func(info SecureInfo)
	OnMessage     func(msg Message)
	OnChainUpdate func(chain [][]byte)
	OnError       func(err *Error)
	OnClose       func()

	// OnPush receives every outbound byte chunk, in emission order.
	OnPush func(chunk []byte)

	verifier Verifier
	parser   *parser

	destroyed bool

	// credentials, set by Start
	haveCredentials bool
	feedKey         []byte
	feed            []byte
	privateKey      []byte
	chain           [][]byte
	id              []byte

	// handshake nonce state
	localNonce        []byte
	remoteNonce       []byte
	pairedHash        []byte
	reversePairedHash []byte

	remoteOpen *protocol.Open

	outKeystream *cryptoadapter.Keystream

	localHandshakeSent bool
	secure             bool

	remoteID    []byte
	remoteChain [][]byte

	sendQueue []pendingSend
}

// New constructs a Session with no credentials. It may begin consuming
// inbound bytes immediately via Write.
func New(verifier Verifier) *Session {
	s := &Session{verifier: verifier, Log: logrus.NewEntry(logrus.StandardLogger())}
	s.parser = newParser(s)
	return s
}

// State reports where the Session sits in the handshake progression,
// for introspection only.
func (s *Session) State() HandshakeState {
	switch {
	case s.secure:
		return StateSecure
	case s.localHandshakeSent:
		return StateHandshakeSent
	case s.remoteOpen != nil:
		return StateOpenReceived
	case s.haveCredentials:
		return StateOpenSent
	default:
		return StateInit
	}
}

// RemoteID returns the peer's handshake id, or nil before Secure.
func (s *Session) RemoteID() []byte { return s.remoteID }

// RemoteChain returns the chain the peer presented in its Handshake,
// or nil before Secure. A later Link does not change it.
func (s *Session) RemoteChain() [][]byte { return s.remoteChain }

// Chain returns the local side's current chain.
func (s *Session) Chain() [][]byte { return s.chain }

// Secure reports whether the handshake has completed.
func (s *Session) Secure() bool { return s.secure }

// Write feeds one inbound chunk of arbitrary size to the frame parser.
func (s *Session) Write(chunk []byte) error {
	if s.destroyed {
		return nil
	}
	if err := s.parser.Write(chunk); err != nil {
		s.fail(err.(*Error))
		return err
	}
	return nil
}

// Start supplies or completes credentials and sends the local Open frame.
func (s *Session) Start(opts Options) error {
	if s.destroyed {
		return nil
	}
	if len(opts.FeedKey) != protocol.PublicKeySize {
		return newError(KindCallerMisuse, errors.New("feedKey must be 32 bytes"))
	}
	if len(opts.PrivateKey) != protocol.PrivateKeySize {
		return newError(KindCallerMisuse, errors.New("privateKey must be 64 bytes"))
	}
	if len(opts.Chain) > protocol.MaxChainLength {
		return s.fail(newError(KindInvalidChain, errors.New("chain exceeds MaxChainLength")))
	}

	feed := opts.DiscoveryKey
	if feed != nil {
		if len(feed) != protocol.HashSize {
			return newError(KindCallerMisuse, errors.New("discoveryKey must be 32 bytes"))
		}
	} else {
		derived, err := cryptoadapter.Hash(protocol.DiscoveryHashKey, opts.FeedKey)
		if err != nil {
			return s.fail(newError(KindCallerMisuse, err))
		}
		feed = derived
	}

	if err := s.verifier.SelfTest(opts.FeedKey, opts.Chain, opts.PrivateKey); err != nil {
		return s.fail(newError(KindInvalidChain, err))
	}

	id := opts.ID
	if id == nil {
		random, err := cryptoadapter.RandomBytes(protocol.IDSize)
		if err != nil {
			return s.fail(newError(KindCallerMisuse, err))
		}
		id = random
	} else if len(id) != protocol.IDSize {
		return newError(KindCallerMisuse, errors.New("id must be 32 bytes"))
	}

	s.feedKey = opts.FeedKey
	s.feed = feed
	s.privateKey = opts.PrivateKey
	s.chain = opts.Chain
	s.id = id
	s.haveCredentials = true

	localNonce, err := cryptoadapter.RandomBytes(protocol.NonceSize)
	if err != nil {
		return s.fail(newError(KindCallerMisuse, err))
	}
	s.localNonce = localNonce

	outKeystream, err := cryptoadapter.NewKeystream(s.feedKey, s.localNonce)
	if err != nil {
		return s.fail(newError(KindCallerMisuse, err))
	}
	s.outKeystream = outKeystream

	s.pushRaw(protocol.EncodeOpen(&protocol.Open{Feed: s.feed, Nonce: s.localNonce}))

	if s.remoteOpen != nil {
		if err := s.tryPair(); err != nil {
			return err
		}
	}
	return nil
}

// handleOpen implements the frameSink contract; it is called by the
// parser exactly once, when the remote Open frame decodes.
func (s *Session) handleOpen(open *protocol.Open) error {
	s.remoteOpen = open
	s.remoteNonce = open.Nonce

	if s.OnOpen != nil {
		s.OnOpen(open)
	}

	if !s.haveCredentials {
		return nil // wait for Start; parser stays Paused until Resume
	}
	return s.tryPair()
}

// tryPair computes the paired hashes, installs the inbound keystream,
// emits the local Handshake, and resumes the parser. Called once both
// credentials and the remote nonce are known.
func (s *Session) tryPair() error {
	if subtle.ConstantTimeCompare(s.remoteOpen.Feed, s.feed) != 1 {
		return s.fail(newError(KindFeedMismatch, nil))
	}

	pairedPreimage := append(append([]byte(nil), s.localNonce...), s.remoteNonce...)
	pairedHash, err := cryptoadapter.Hash(protocol.HashKey, pairedPreimage)
	if err != nil {
		return s.fail(newError(KindCallerMisuse, err))
	}
	reversePreimage := append(append([]byte(nil), s.remoteNonce...), s.localNonce...)
	reversePairedHash, err := cryptoadapter.Hash(protocol.HashKey, reversePreimage)
	if err != nil {
		return s.fail(newError(KindCallerMisuse, err))
	}
	s.pairedHash = pairedHash
	s.reversePairedHash = reversePairedHash

	inKeystream, err := cryptoadapter.NewKeystream(s.feedKey, s.remoteNonce)
	if err != nil {
		return s.fail(newError(KindInvalidNonce, err))
	}

	// Nonces are zeroed once the paired hashes are computed and never
	// referenced again.
	zero(s.localNonce)
	zero(s.remoteNonce)
	s.localNonce = nil
	s.remoteNonce = nil

	signature, err := cryptoadapter.Sign(s.pairedHash, s.privateKey)
	if err != nil {
		return s.fail(newError(KindCallerMisuse, err))
	}
	handshake := &protocol.Handshake{ID: s.id, Extensions: nil, Signature: signature, Chain: s.chain}
	s.pushFrame(protocol.KindHandshake, protocol.EncodeHandshake(handshake))
	s.localHandshakeSent = true

	if err := s.parser.Resume(inKeystream); err != nil {
		return err
	}
	return nil
}

// handleFrame implements the frameSink contract for every decoded
// post-Open, post-Handshake-dispatch-rule frame.
func (s *Session) handleFrame(kind protocol.MessageKind, payload []byte) error {
	switch kind {
	case protocol.KindHandshake:
		return s.handleHandshake(payload)
	case protocol.KindSync:
		sync, err := protocol.DecodeSync(payload)
		if err != nil {
			return newError(KindMalformedMessage, err)
		}
		s.deliver(Message{Kind: kind, Sync: sync})
		return nil
	case protocol.KindFilterOptions:
		opts, err := protocol.DecodeFilterOptions(payload)
		if err != nil {
			return newError(KindMalformedMessage, err)
		}
		s.deliver(Message{Kind: kind, FilterOptions: opts})
		return nil
	case protocol.KindData:
		data, err := protocol.DecodeData(payload)
		if err != nil {
			return newError(KindMalformedMessage, err)
		}
		if err := validateData(data); err != nil {
			return err
		}
		s.deliver(Message{Kind: kind, Data: data})
		return nil
	case protocol.KindRequest:
		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			return newError(KindMalformedMessage, err)
		}
		if req.Limit != nil && *req.Limit == 0 {
			return newError(KindProtocolViolation, errors.New("request.limit present but zero"))
		}
		s.deliver(Message{Kind: kind, Request: req})
		return nil
	case protocol.KindLink:
		link, err := protocol.DecodeLink(payload)
		if err != nil {
			return newError(KindMalformedMessage, err)
		}
		return s.handleLink(link)
	default:
		return nil
	}
}

func (s *Session) deliver(msg Message) {
	if s.OnMessage != nil {
		s.OnMessage(msg)
	}
}

func validateData(d *protocol.Data) error {
	if len(d.Values) == 0 {
		return newError(KindProtocolViolation, errors.New("data.values is empty"))
	}
	seen := make(map[string]struct{}, len(d.Values))
	for _, v := range d.Values {
		if len(v) == 0 {
			return newError(KindProtocolViolation, errors.New("data.values contains an empty element"))
		}
		key := string(v)
		if _, dup := seen[key]; dup {
			return newError(KindProtocolViolation, errors.New("data.values contains a duplicate element"))
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (s *Session) handleHandshake(payload []byte) error {
	handshake, err := protocol.DecodeHandshake(payload)
	if err != nil {
		return newError(KindMalformedMessage, err)
	}
	if len(handshake.ID) != protocol.IDSize {
		return newError(KindMalformedMessage, nil)
	}

	if err := s.verifier.VerifyHandshake(s.feedKey, handshake.Chain, s.reversePairedHash, handshake.Signature); err != nil {
		return newError(KindUntrustedPeer, err)
	}

	s.remoteID = handshake.ID
	s.remoteChain = handshake.Chain
	s.secure = true

	if s.OnSecure != nil {
		s.OnSecure(SecureInfo{ID: s.remoteID, Chain: s.remoteChain})
	}

	// Queued sends reach the wire after the engine's own Handshake and
	// any chain-shortening Link it emits here.
	s.maybeShortenChain()
	s.drainSendQueue()
	return nil
}

// maybeShortenChain implements the one-shot chain shortening exchange,
// evaluated right after Secure.
func (s *Session) maybeShortenChain() {
	if !trust.ShouldShorten(len(s.chain), len(s.remoteChain)) {
		return
	}
	result, err := s.verifier.Walk(s.feedKey, s.remoteChain)
	if err != nil {
		return // remote chain already verified during handshake; defensive only
	}
	link, err := s.verifier.IssueShorteningLink(s.privateKey, result.Terminal, result.MinExpiration)
	if err != nil {
		s.Log.WithError(err).Warn("failed to issue chain-shortening link")
		return
	}
	s.pushFrame(protocol.KindLink, protocol.EncodeLink(&protocol.Link{Link: link.Encode()}))
}

func (s *Session) handleLink(link *protocol.Link) error {
	if !trust.ShouldAcceptExtension(len(s.chain), len(s.remoteChain)) {
		return nil
	}
	candidate := trust.AppendLink(s.remoteChain, link.Link)
	if err := s.verifier.VerifyExtension(s.feedKey, candidate, s.privateKey); err != nil {
		return newError(KindInvalidChain, err)
	}
	s.chain = candidate
	if s.OnChainUpdate != nil {
		s.OnChainUpdate(candidate)
	}
	return nil
}

// Sync sends a Sync message, queuing it if not yet Secure.
func (s *Session) Sync(body *protocol.Sync) error {
	if body == nil || body.Filter == nil {
		return newError(KindCallerMisuse, errors.New("sync.filter is required"))
	}
	if body.Range != nil && body.Range.Start == nil {
		return newError(KindCallerMisuse, errors.New("sync.range.start is required"))
	}
	return s.send(func() error {
		s.pushFrame(protocol.KindSync, protocol.EncodeSync(body))
		return nil
	})
}

// FilterOptions sends a FilterOptions message, queuing it if not yet
// Secure.
func (s *Session) FilterOptions(body *protocol.FilterOptions) error {
	if body == nil {
		return newError(KindCallerMisuse, errors.New("filterOptions body is required"))
	}
	return s.send(func() error {
		s.pushFrame(protocol.KindFilterOptions, protocol.EncodeFilterOptions(body))
		return nil
	})
}

// Data sends a Data message, queuing it if not yet Secure.
func (s *Session) Data(body *protocol.Data) error {
	if body == nil {
		return newError(KindCallerMisuse, errors.New("data body is required"))
	}
	if err := validateData(body); err != nil {
		var se *Error
		if errors.As(err, &se) {
			return newError(KindCallerMisuse, se.Err)
		}
		return newError(KindCallerMisuse, err)
	}
	return s.send(func() error {
		s.pushFrame(protocol.KindData, protocol.EncodeData(body))
		return nil
	})
}

// Request sends a Request message, queuing it if not yet Secure.
func (s *Session) Request(body *protocol.Request) error {
	if body == nil || body.Start == nil {
		return newError(KindCallerMisuse, errors.New("request.start is required"))
	}
	if body.Limit != nil && *body.Limit == 0 {
		return newError(KindCallerMisuse, errors.New("request.limit, if present, must be nonzero"))
	}
	return s.send(func() error {
		s.pushFrame(protocol.KindRequest, protocol.EncodeRequest(body))
		return nil
	})
}

func (s *Session) send(op pendingSend) error {
	if s.destroyed {
		return nil
	}
	if !s.secure {
		s.sendQueue = append(s.sendQueue, op)
		return nil
	}
	return op()
}

func (s *Session) drainSendQueue() {
	queue := s.sendQueue
	s.sendQueue = nil
	for _, op := range queue {
		if err := op(); err != nil {
			s.fail(newError(KindProtocolViolation, err))
			return
		}
	}
}

// pushFrame encodes a post-Open frame and hands it to pushRaw after
// XORing it with the outbound keystream in place.
func (s *Session) pushFrame(kind protocol.MessageKind, payload []byte) {
	frame := protocol.EncodeFrame(kind, payload)
	s.outKeystream.Xor(frame)
	s.pushRaw(frame)
}

func (s *Session) pushRaw(chunk []byte) {
	if s.OnPush != nil {
		s.OnPush(chunk)
	}
}

func (s *Session) fail(err *Error) error {
	if s.destroyed {
		return err
	}
	s.Log.WithField("kind", err.Kind.String()).WithError(err.Err).Error("session error")
	if s.OnError != nil {
		s.OnError(err)
	}
	s.Destroy()
	return err
}

// Destroy is the single-shot terminal transition: it releases
// keystreams, drops pending queue entries without invoking their
// callbacks, and is idempotent.
func (s *Session) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.sendQueue = nil
	s.outKeystream = nil
	s.parser.inKeystream = nil
	if s.OnClose != nil {
		s.OnClose()
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
