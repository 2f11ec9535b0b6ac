package scan

import (
	"context"
	"sync"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

type leaseKey struct {
	modality beacon.Modality
	hardware string
}

// Leases guarantees at most one live session per modality and piece of
// hardware. Local hardware uses the empty hardware key; each remote device
// has its own.
type Leases struct {
	mu   sync.Mutex
	held map[leaseKey]*Lease
}

// NewLeases returns an empty lease table.
func NewLeases() *Leases {
	return &Leases{held: make(map[leaseKey]*Lease)}
}

// Lease is the right to use one modality on one piece of hardware.
type Lease struct {
	owner    *Leases
	key      leaseKey
	released chan struct{}
	once     sync.Once
}

func busyError(m beacon.Modality, hw string) *Error {
	msg := "modality already in use"
	if hw != "" {
		msg += " on " + hw
	}
	return &Error{Code: ErrCodeModalityBusy, Op: "Acquire", Modality: m, Message: msg}
}

// Acquire takes the modality on hw or fails with ErrModalityBusy.
func (l *Leases) Acquire(m beacon.Modality, hw string) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, _ := l.tryLocked(leaseKey{m, hw})
	if lease == nil {
		return nil, busyError(m, hw)
	}
	return lease, nil
}

// Wait takes the modality on hw, waiting for the current holder to release
// it. It gives up with ErrModalityBusy when expire fires and with ctx.Err()
// when ctx ends.
func (l *Leases) Wait(ctx context.Context, m beacon.Modality, hw string, expire <-chan time.Time) (*Lease, error) {
	key := leaseKey{m, hw}
	for {
		l.mu.Lock()
		lease, holder := l.tryLocked(key)
		l.mu.Unlock()
		if lease != nil {
			return lease, nil
		}

		select {
		case <-holder.released:
		case <-expire:
			return nil, busyError(m, hw)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryLocked returns a new lease, or the current holder when key is taken.
func (l *Leases) tryLocked(key leaseKey) (*Lease, *Lease) {
	if cur, busy := l.held[key]; busy {
		return nil, cur
	}
	lease := &Lease{owner: l, key: key, released: make(chan struct{})}
	l.held[key] = lease
	return lease, nil
}

// Held reports whether a lease on m and hw is outstanding.
func (l *Leases) Held(m beacon.Modality, hw string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[leaseKey{m, hw}]
	return ok
}

// Modality returns the leased modality.
func (ls *Lease) Modality() beacon.Modality { return ls.key.modality }

// Hardware returns the leased hardware key.
func (ls *Lease) Hardware() string { return ls.key.hardware }

// Release frees the lease and wakes sessions waiting for it. Only the first
// call has an effect.
func (ls *Lease) Release() {
	ls.once.Do(func() {
		ls.owner.mu.Lock()
		if ls.owner.held[ls.key] == ls {
			delete(ls.owner.held, ls.key)
		}
		ls.owner.mu.Unlock()
		close(ls.released)
	})
}
