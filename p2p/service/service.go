// Package service implements the Service core: a single cooperative
// scheduler goroutine owning the protocol registry, listeners, sessions,
// and every pending task (spec.md §4.5). Grounded on the teacher's
// single-goroutine background-manager idiom (pstoremanager.go's
// ctx/ticker/channel select loop), generalized from one fixed event type to
// the full ServiceTask vocabulary.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheNoobiCat/tentacle-go/core/crypto"
	"github.com/TheNoobiCat/tentacle-go/core/network"
	"github.com/TheNoobiCat/tentacle-go/core/protocol"
	"github.com/TheNoobiCat/tentacle-go/core/transport"
	"github.com/TheNoobiCat/tentacle-go/p2p/negotiate"
	"github.com/TheNoobiCat/tentacle-go/p2p/registry"
	"github.com/TheNoobiCat/tentacle-go/p2p/session"
	tcptransport "github.com/TheNoobiCat/tentacle-go/p2p/transport/tcp"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("service")

const (
	defaultDialTimeout       = 10 * time.Second
	defaultTaskQueueDepth    = 256
	defaultDialBackoffWindow = 5 * time.Second
	defaultDialBackoffSize   = 1024
	tickInterval             = 200 * time.Millisecond
)

type serviceNotify struct {
	pid      network.ProtocolID
	interval time.Duration
	token    uint64
	next     time.Time
}

type sessionNotify struct {
	sessionID network.SessionID
	pid       network.ProtocolID
	interval  time.Duration
	token     uint64
	next      time.Time
}

// Service is the runtime: one per process-level networking identity,
// reachable only through ServiceContext handles posted onto taskCh.
type Service struct {
	localKey crypto.PrivKey
	registry *registry.Registry
	upgrader *upgrader
	tcp      *tcptransport.Transport

	clock clock.Clock

	sessionTimeout time.Duration
	dialTimeout    time.Duration

	taskCh    chan task
	acceptCh  chan transport.CapableConn
	done      chan struct{}
	closeOnce sync.Once

	mu              sync.Mutex
	sessions        map[network.SessionID]*session.Session
	listeners       []transport.Listener
	nextSessionID   uint64
	serviceNotifies []*serviceNotify
	sessionNotifies []*sessionNotify

	dialer  *dialSync
	backoff *dialBackoff

	// serviceHandlers holds the one shared Handler instance for every
	// ServiceLevel protocol, constructed once at startup. SessionLevel
	// protocols get a fresh Handler per session instead, tracked in
	// sessionHandlers (spec.md §3's HandlerKind distinction).
	serviceHandlers map[network.ProtocolID]protocol.Handler
	sessionHandlers map[network.SessionID]map[network.ProtocolID]protocol.Handler

	eg *errgroup.Group
}

// Options configure a Service at construction time.
type Options struct {
	Registry       *registry.Registry
	LocalKey       crypto.PrivKey
	Clock          clock.Clock
	SessionTimeout time.Duration
	DialTimeout    time.Duration
}

// New constructs a Service; call Run to start its scheduler goroutine.
func New(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("service: registry is required")
	}
	if opts.LocalKey == nil {
		return nil, fmt.Errorf("service: local identity key is required")
	}
	if err := opts.Registry.Validate(); err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	up := newUpgrader(opts.LocalKey)

	svc := &Service{
		localKey:        opts.LocalKey,
		registry:        opts.Registry,
		upgrader:        up,
		tcp:             tcptransport.New(up, tcptransport.WithMetrics()),
		clock:           clk,
		sessionTimeout:  opts.SessionTimeout,
		dialTimeout:     dialTimeout,
		taskCh:          make(chan task, defaultTaskQueueDepth),
		acceptCh:        make(chan transport.CapableConn, 64),
		done:            make(chan struct{}),
		sessions:        make(map[network.SessionID]*session.Session),
		backoff:         newDialBackoff(defaultDialBackoffSize, defaultDialBackoffWindow),
		serviceHandlers: make(map[network.ProtocolID]protocol.Handler),
		sessionHandlers: make(map[network.SessionID]map[network.ProtocolID]protocol.Handler),
	}
	svc.dialer = newDialSync(svc.dialWorker)

	svcCtx := svc.Context()
	for _, meta := range opts.Registry.All() {
		if meta.Kind != protocol.ServiceLevel || meta.NewHandler == nil {
			continue
		}
		h := meta.NewHandler()
		h.Init(svcCtx)
		svc.serviceHandlers[meta.ID] = h
	}

	ensureMetrics()
	return svc, nil
}

// Context returns a ServiceContext bound to this Service, the handle given
// to protocol handlers.
func (s *Service) Context() protocol.ServiceContext {
	return &handlerContext{svc: s}
}

// resolveHandler returns the Handler that should run a just-opened
// sub-stream for pid on sess: the shared instance for a ServiceLevel
// protocol, or a freshly constructed and Init'd instance for a
// SessionLevel one, cached per session so repeated opens of the same
// protocol on one session share a handler.
func (s *Service) resolveHandler(sess *session.Session, pid network.ProtocolID) (protocol.Handler, bool) {
	if h, ok := s.serviceHandlers[pid]; ok {
		return h, true
	}

	meta, ok := s.registry.ByID(pid)
	if !ok || meta.Kind != protocol.SessionLevel || meta.NewHandler == nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	perSession, ok := s.sessionHandlers[sess.ID()]
	if !ok {
		perSession = make(map[network.ProtocolID]protocol.Handler)
		s.sessionHandlers[sess.ID()] = perSession
	}
	if h, ok := perSession[pid]; ok {
		return h, true
	}
	h := meta.NewHandler()
	h.Init(s.Context())
	perSession[pid] = h
	return h, true
}

// Run drives the scheduler until ctx is cancelled or Close is called. It
// never returns on its own except via ctx cancellation, Close, or an
// unrecoverable FutureTask failure.
func (s *Service) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	s.eg = eg

	ticker := s.clock.Ticker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()

		case <-egCtx.Done():
			s.Close()
			return eg.Wait()

		case <-s.done:
			return nil

		case t := <-s.taskCh:
			s.handleTask(egCtx, t)

		case conn := <-s.acceptCh:
			s.registerSession(conn, network.DirInbound, nil)

		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// Close tears down every session and listener and stops the scheduler.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		sessions := s.sessions
		s.sessions = nil
		listeners := s.listeners
		s.listeners = nil
		s.mu.Unlock()

		for _, sess := range sessions {
			sess.Close()
		}
		for _, l := range listeners {
			l.Close()
		}
	})
	return nil
}

func (s *Service) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.serviceNotifies {
		if !now.Before(n.next) {
			n.next = now.Add(n.interval)
			s.fireNotify(n.pid, n.token)
		}
	}

	for _, n := range s.sessionNotifies {
		if !now.Before(n.next) {
			n.next = now.Add(n.interval)
			if _, ok := s.sessions[n.sessionID]; ok {
				if h, ok := s.sessionHandlers[n.sessionID][n.pid]; ok {
					go h.Notify(protocol.ProtocolContext{ServiceContext: s.Context(), ProtoID: n.pid}, n.token)
				}
			}
		}
	}

	for _, sess := range s.sessions {
		if sess.TimedOut() {
			go sess.Close()
		}
	}
}

// fireNotify runs a ServiceLevel protocol's Notify callback. serviceHandlers
// is populated once at construction and never mutated afterward, so it's
// safe to read without holding s.mu.
func (s *Service) fireNotify(pid network.ProtocolID, token uint64) {
	h, ok := s.serviceHandlers[pid]
	if !ok {
		return
	}
	go h.Notify(protocol.ProtocolContext{ServiceContext: s.Context(), ProtoID: pid}, token)
}

// handleTask drains one task off the scheduler's channel, per spec.md
// §4.5's draining order: the task channel itself already serializes these,
// so no further ordering work is needed here beyond dispatch.
func (s *Service) handleTask(ctx context.Context, t task) {
	ensureMetrics()
	tasksHandled.WithLabelValues(taskKindLabel(t.kind)).Inc()

	var err error
	switch t.kind {
	case taskDial:
		err = s.doDial(ctx, t.address, t.target)
	case taskListen:
		err = s.doListen(t.address)
	case taskDisconnect:
		err = s.doDisconnect(t.sessionID)
	case taskSendMessage:
		err = s.doSendMessage(t.sessionID, t.protoID, t.data)
	case taskFilterBroadcast:
		err = s.doFilterBroadcast(t.exclude, t.protoID, t.data)
	case taskSetServiceNotify:
		s.doSetServiceNotify(t.protoID, t.interval, t.token)
	case taskRemoveServiceNotify:
		s.doRemoveServiceNotify(t.protoID, t.token)
	case taskSetSessionNotify:
		s.doSetSessionNotify(t.sessionID, t.protoID, t.interval, t.token)
	case taskFutureTask:
		fn := t.fn
		s.eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("service: future task panicked: %v", r)
				}
			}()
			fn()
			return nil
		})
	}

	if t.resultCh != nil {
		t.resultCh <- err
	}
}

func taskKindLabel(k taskKind) string {
	switch k {
	case taskDial:
		return "dial"
	case taskListen:
		return "listen"
	case taskDisconnect:
		return "disconnect"
	case taskSendMessage:
		return "send_message"
	case taskFilterBroadcast:
		return "filter_broadcast"
	case taskSetServiceNotify:
		return "set_service_notify"
	case taskRemoveServiceNotify:
		return "remove_service_notify"
	case taskSetSessionNotify:
		return "set_session_notify"
	case taskFutureTask:
		return "future_task"
	default:
		return "unknown"
	}
}

func (s *Service) doDial(ctx context.Context, address string, target protocol.TargetProtocol) error {
	dialCtx := ctx
	if s.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.dialTimeout)
		defer cancel()
	}

	now := s.clock.Now()
	if s.backoff.shouldBackoff(address, now) {
		log.Debugw("dialing address still in backoff window", "address", address)
	}

	sid, err := s.dialer.Dial(dialCtx, address)
	if err != nil {
		s.backoff.markFailure(address, now)
		return err
	}

	s.mu.Lock()
	sess, ok := s.sessions[network.SessionID(sid)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("service: dialed session %d vanished before use", sid)
	}

	s.openTargetProtocols(sess, target)
	return nil
}

// dialWorker is the per-address goroutine dialSync spawns on first demand
// for a given destination: for each queued dialRequest in turn it performs
// its own TCP dial plus secio+yamux upgrade and answers that request, so
// dials to one address never overlap.
func (s *Service) dialWorker(address string, reqch <-chan dialRequest) {
	for req := range reqch {
		maddr, err := ma.NewMultiaddr(address)
		if err != nil {
			req.resch <- dialResponse{err: fmt.Errorf("service: parse address %q: %w", address, err)}
			continue
		}
		conn, err := s.tcp.Dial(req.ctx, maddr)
		if err != nil {
			req.resch <- dialResponse{err: err}
			continue
		}
		sess := s.registerSession(conn, network.DirOutbound, maddr)
		req.resch <- dialResponse{sessionID: uint64(sess.ID())}
	}
}

func (s *Service) openTargetProtocols(sess *session.Session, target protocol.TargetProtocol) {
	if target.Blank {
		return
	}
	var ids []network.ProtocolID
	if target.All {
		for _, meta := range s.registry.All() {
			ids = append(ids, meta.ID)
		}
	} else {
		ids = target.Only
	}
	for _, id := range ids {
		meta, ok := s.registry.ByID(id)
		if !ok {
			continue
		}
		sub, err := sess.OpenSubStream(meta.ID, string(meta.Name), meta.SupportedVersions)
		if err != nil {
			log.Debugw("failed to open sub-stream on dial", "proto", meta.Name, "err", err)
			continue
		}
		s.startHandler(sess, sub)
	}
}

func (s *Service) doListen(address string) error {
	maddr, err := ma.NewMultiaddr(address)
	if err != nil {
		return fmt.Errorf("service: parse address %q: %w", address, err)
	}
	l, err := s.tcp.Listen(maddr)
	if err != nil {
		return fmt.Errorf("service: listen %s: %w", address, err)
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	s.eg.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				log.Debugw("listener accept stopped", "address", address, "err", err)
				return nil
			}
			select {
			case s.acceptCh <- conn:
			case <-s.done:
				conn.Close()
				return nil
			}
		}
	})
	return nil
}

func (s *Service) doDisconnect(sid network.SessionID) error {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("service: session %d not found", sid)
	}
	return sess.Close()
}

func (s *Service) doSendMessage(sid network.SessionID, pid network.ProtocolID, data []byte) error {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("service: session %d not found", sid)
	}
	return sess.Broadcast(pid, data)
}

func (s *Service) doFilterBroadcast(exclude map[network.SessionID]struct{}, pid network.ProtocolID, data []byte) error {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if _, skip := exclude[id]; skip {
			continue
		}
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Broadcast(pid, data); err != nil {
			log.Debugw("filter broadcast skipped session", "session", sess.ID(), "err", err)
		}
	}
	return nil
}

func (s *Service) doSetServiceNotify(pid network.ProtocolID, interval time.Duration, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceNotifies = append(s.serviceNotifies, &serviceNotify{
		pid: pid, interval: interval, token: token, next: s.clock.Now().Add(interval),
	})
}

func (s *Service) doRemoveServiceNotify(pid network.ProtocolID, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.serviceNotifies[:0]
	for _, n := range s.serviceNotifies {
		if n.pid == pid && n.token == token {
			continue
		}
		kept = append(kept, n)
	}
	s.serviceNotifies = kept
}

func (s *Service) doSetSessionNotify(sid network.SessionID, pid network.ProtocolID, interval time.Duration, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionNotifies = append(s.sessionNotifies, &sessionNotify{
		sessionID: sid, pid: pid, interval: interval, token: token, next: s.clock.Now().Add(interval),
	})
}

func (s *Service) allocateSessionID() network.SessionID {
	s.nextSessionID++
	return network.SessionID(s.nextSessionID)
}

func (s *Service) registerSession(conn transport.CapableConn, dir network.Direction, addr ma.Multiaddr) *session.Session {
	s.mu.Lock()
	id := s.allocateSessionID()
	s.mu.Unlock()

	remoteAddr := addr
	if remoteAddr == nil {
		remoteAddr = conn.RemoteMultiaddr()
	}

	sessCtx := network.NewSessionContext(id, remoteAddr, dir, conn.RemotePeer(), conn.RemotePublicKey())
	sess := session.New(sessCtx, conn, s.sessionTimeout, s.clock, s.onSessionClosed)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	ensureMetrics()
	sessionsOpened.Inc()

	go sess.AcceptLoop(context.Background(), func(muxed network.MuxedStream) {
		s.handleInboundSubStream(sess, muxed)
	})

	return sess
}

func (s *Service) onSessionClosed(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	delete(s.sessionHandlers, sess.ID())
	s.mu.Unlock()
	ensureMetrics()
	sessionsClosed.Inc()
}

// protocolResolver adapts the registry to negotiate.VersionResolver.
type protocolResolver struct{ reg *registry.Registry }

func (r protocolResolver) ResolveVersion(name string, proposed []string) (string, bool) {
	meta, ok := r.reg.ByName(protocol.Name(name))
	if !ok {
		return "", false
	}
	return negotiate.HighestCommon(proposed, meta.SupportedVersions)
}

func (s *Service) handleInboundSubStream(sess *session.Session, muxed network.MuxedStream) {
	sub, err := sess.AcceptSubStream(muxed, protocolResolver{s.registry}, func(name string) (network.ProtocolID, bool) {
		meta, ok := s.registry.ByName(protocol.Name(name))
		if !ok {
			return 0, false
		}
		return meta.ID, true
	})
	if err != nil {
		log.Debugw("inbound sub-stream negotiation failed", "session", sess.ID(), "err", err)
		return
	}
	s.startHandler(sess, sub)
}

// startHandler runs one protocol Handler's lifecycle against a freshly
// opened sub-stream: Connected, then a blocking Received loop until the
// sub-stream closes, then Disconnected. A panicking handler callback is
// recovered and converted into a closed sub-stream rather than taking down
// the scheduler (spec.md's per-callback panic policy).
func (s *Service) startHandler(sess *session.Session, sub *session.SubStream) {
	pid := sub.ProtocolID()
	handler, ok := s.resolveHandler(sess, pid)
	if !ok {
		sub.Close()
		return
	}

	ctx := protocol.ProtocolContextMutRef{
		ProtocolContext: protocol.ProtocolContext{ServiceContext: s.Context(), ProtoID: pid},
		Session:         sess.Context(),
	}

	s.eg.Go(func() error {
		if !s.safeCall(sub, func() { handler.Connected(ctx, sub.Version()) }) {
			return nil
		}
		defer s.safeCall(sub, func() { handler.Disconnected(ctx) })

		buf := make([]byte, 64*1024)
		for {
			n, err := sub.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				if !s.safeCall(sub, func() { handler.Received(ctx, data) }) {
					return nil
				}
			}
			if err != nil {
				return nil
			}
		}
	})
}

// safeCall recovers a handler panic, closing only the offending sub-stream
// rather than crashing the scheduler. Returns false if the sub-stream is no
// longer usable afterward.
func (s *Service) safeCall(sub *session.SubStream, fn func()) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("protocol handler panicked, closing sub-stream", "proto", sub.ProtocolID(), "panic", r)
			sub.Close()
			ok = false
		}
	}()
	fn()
	return ok
}
