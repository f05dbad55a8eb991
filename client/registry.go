package client

import (
	"sync"
	"time"

	"github.com/ascend-vs/annserve/cmn"
	"github.com/ascend-vs/annserve/hk"
)

// maxSessions bounds how many live device sessions the registry will
// hand out; beyond this a caller is almost certainly leaking sessions.
const maxSessions = 256

// Registry is a ref-counted singleton keyed by daemon address: repeated
// Acquire calls for the same address share one Session and a reference
// count. Release drops a reference immediately but only marks the
// session idle; StartIdleReaper's hk tick is what actually closes and
// evicts sessions that have sat at zero refs past the grace period, so
// a caller cycling Acquire/Release in a tight loop doesn't pay a
// reconnect cost every time.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*refSession
}

type refSession struct {
	sess      *Session
	refs      int
	idleSince time.Time // zero while refs > 0
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*refSession)}
}

// DefaultRegistry is the process-wide registry used by callers that
// don't need isolated session pools (tests construct their own via
// NewRegistry instead).
var DefaultRegistry = NewRegistry()

func (reg *Registry) Acquire(addr string, dialTimeout time.Duration) (*Session, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rs, ok := reg.byKey[addr]; ok {
		rs.refs++
		rs.idleSince = time.Time{}
		return rs.sess, nil
	}
	if len(reg.byKey) >= maxSessions {
		return nil, cmn.NewErrf("client.Registry.Acquire", cmn.Precondition, -1,
			"session registry at capacity (%d)", maxSessions)
	}
	sess, err := NewSession(addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	reg.byKey[addr] = &refSession{sess: sess, refs: 1}
	return sess, nil
}

// Release drops one reference. The session itself is left open, marked
// idle since now; StartIdleReaper's sweep closes it once it has stayed
// at zero refs past the grace period.
func (reg *Registry) Release(addr string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rs, ok := reg.byKey[addr]
	if !ok {
		return nil
	}
	rs.refs--
	if rs.refs <= 0 {
		rs.refs = 0
		rs.idleSince = time.Now()
	}
	return nil
}

// Len reports the number of distinct live sessions (for tests and
// stats gauges, not for ref-counting decisions).
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.byKey)
}

// reapIdle closes and evicts every session that has sat at zero refs
// for at least maxIdle, returning how many it reaped.
func (reg *Registry) reapIdle(maxIdle time.Duration) int {
	reg.mu.Lock()
	var dead []*refSession
	now := time.Now()
	for addr, rs := range reg.byKey {
		if rs.refs == 0 && !rs.idleSince.IsZero() && now.Sub(rs.idleSince) >= maxIdle {
			dead = append(dead, rs)
			delete(reg.byKey, addr)
		}
	}
	reg.mu.Unlock()

	for _, rs := range dead {
		rs.sess.Close()
	}
	return len(dead)
}

// StartIdleReaper registers a recurring hk cleanup that closes sessions
// idle past maxIdle, checked every interval (spec [AMBIENT]: housekeeping
// cadence owned by hk.Housekeeper the way the daemon owns its own log
// flush tick).
func (reg *Registry) StartIdleReaper(hub *hk.Housekeeper, name string, interval, maxIdle time.Duration) {
	hub.Reg(name, func() time.Duration {
		reg.reapIdle(maxIdle)
		return interval
	}, interval)
}
