package service

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// errConcurrentDialSuccessful mirrors dial_sync.go's sentinel: it is the
// cancel cause recorded on an activeDial's context when the last caller's
// dial succeeded.
var errConcurrentDialSuccessful = errors.New("service: concurrent dial successful")

type dialRequest struct {
	ctx    context.Context
	resch  chan dialResponse
}

type dialResponse struct {
	sessionID uint64
	err       error
}

type activeDial struct {
	refCnt      int
	ctx         context.Context
	cancelCause context.CancelCauseFunc
	reqch       chan dialRequest
}

// dialSync ensures at most one in-flight dial per destination address is
// ever running, adapted from p2p/net/swarm/dial_sync.go. The teacher keys
// this on peer.ID; here the remote NodeID isn't known until the secio
// handshake completes, so the dedup key is the dial target address
// instead. dialBackoff is keyed on the same address.
type dialSync struct {
	mu     sync.Mutex
	dials  map[string]*activeDial
	worker func(string, <-chan dialRequest)
}

func newDialSync(worker func(string, <-chan dialRequest)) *dialSync {
	return &dialSync{dials: make(map[string]*activeDial), worker: worker}
}

func (ds *dialSync) getActiveDial(addr string) *activeDial {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ad, ok := ds.dials[addr]
	if !ok {
		ctx, cancel := context.WithCancelCause(context.Background())
		ad = &activeDial{ctx: ctx, cancelCause: cancel, reqch: make(chan dialRequest)}
		go ds.worker(addr, ad.reqch)
		ds.dials[addr] = ad
	}
	ad.refCnt++
	return ad
}

func (ad *activeDial) dial(ctx context.Context) (uint64, error) {
	resch := make(chan dialResponse, 1)
	select {
	case ad.reqch <- dialRequest{ctx: ctx, resch: resch}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-resch:
		return res.sessionID, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Dial waits for (and, if none is running, starts) the dial to addr.
func (ds *dialSync) Dial(ctx context.Context, addr string) (uint64, error) {
	ad := ds.getActiveDial(addr)
	sid, err := ad.dial(ctx)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	ad.refCnt--
	if ad.refCnt == 0 {
		if err == nil {
			ad.cancelCause(errConcurrentDialSuccessful)
		} else {
			ad.cancelCause(err)
		}
		close(ad.reqch)
		delete(ds.dials, addr)
	}
	return sid, err
}

// dialBackoff remembers destination addresses whose last dial or handshake
// failed terminally (ConnectSelf, signature mismatch, refused connection)
// for a short window, so a broadcast or notify storm doesn't hammer a peer
// that just rejected us. It is a hint, not a refusal: Dial always honors an
// explicit caller request.
type dialBackoff struct {
	cache  *lru.Cache[string, time.Time]
	window time.Duration
}

func newDialBackoff(size int, window time.Duration) *dialBackoff {
	cache, _ := lru.New[string, time.Time](size)
	return &dialBackoff{cache: cache, window: window}
}

func (b *dialBackoff) markFailure(addr string, now time.Time) {
	b.cache.Add(addr, now)
}

func (b *dialBackoff) shouldBackoff(addr string, now time.Time) bool {
	last, ok := b.cache.Get(addr)
	if !ok {
		return false
	}
	return now.Sub(last) < b.window
}
