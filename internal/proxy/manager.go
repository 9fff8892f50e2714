package proxy

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/metrics"
)

// Options configure a Manager
type Options struct {
	Enabled           bool
	RotationInterval  time.Duration
	MaxRequests       int
	BlacklistDuration time.Duration
	TestURL           string
	TestTimeout       time.Duration

	// Now and Intn replace the wall clock and the random source in tests
	Now     func() time.Time
	Intn    func(n int) int
	Metrics *metrics.Metrics
}

// Manager rotates a pool of egress identities and blacklists bad ones for a while
type Manager struct {
	mu sync.Mutex

	opts         Options
	pool         []*Identity
	blacklist    map[string]time.Time
	current      *Identity
	requests     int
	lastRotation time.Time
}

// NewManager creates a Manager over the given identities
func NewManager(opts Options, ids ...*Identity) *Manager {
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = 300 * time.Second
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 10
	}
	if opts.BlacklistDuration <= 0 {
		opts.BlacklistDuration = 30 * time.Minute
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 10 * time.Second
	}
	if opts.TestURL == "" {
		opts.TestURL = "https://api.ipify.org?format=json"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}

	m := &Manager{
		opts:      opts,
		blacklist: make(map[string]time.Time),
	}
	for _, id := range ids {
		m.addLocked(id)
	}
	return m
}

// Enabled reports whether proxying is turned on
func (m *Manager) Enabled() bool {
	return m != nil && m.opts.Enabled
}

// Get returns the identity to use for the next request, or nil when proxying
// is disabled or the pool is empty.
func (m *Manager) Get(forceRotate bool) *Identity {
	if m == nil || !m.opts.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pool) == 0 {
		return nil
	}

	now := m.opts.Now()
	if forceRotate ||
		m.current == nil ||
		now.Sub(m.lastRotation) >= m.opts.RotationInterval ||
		m.requests >= m.opts.MaxRequests {
		m.rotateLocked(now)
	} else {
		m.requests++
	}

	return m.current
}

// Current returns the identity in use without counting a request
func (m *Manager) Current() *Identity {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Blacklist benches id for d and rotates away from it. It is a no-op when the
// pool has one identity or fewer.
func (m *Manager) Blacklist(id *Identity, d time.Duration) bool {
	if id == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blacklistLocked(id, d)
}

// BlacklistCurrent benches the identity currently in use
func (m *Manager) BlacklistCurrent(d time.Duration) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	return m.blacklistLocked(m.current, d)
}

// Add appends an identity to the pool
func (m *Manager) Add(id *Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(id)
}

// Count returns the pool size
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// AvailableCount returns the number of identities not currently blacklisted
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked(m.opts.Now())
	return len(m.availableLocked())
}

// Identities returns a snapshot of the pool
func (m *Manager) Identities() []*Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Identity, len(m.pool))
	copy(out, m.pool)
	return out
}

// IsBlacklisted reports whether id is benched right now
func (m *Manager) IsBlacklisted(id *Identity) bool {
	if id == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.blacklist[id.key()]
	return ok && m.opts.Now().Before(expiry)
}

func (m *Manager) addLocked(id *Identity) {
	if id == nil {
		return
	}
	for _, existing := range m.pool {
		if existing.key() == id.key() {
			return
		}
	}
	m.pool = append(m.pool, id)
}

func (m *Manager) blacklistLocked(id *Identity, d time.Duration) bool {
	logger := logging.WithComponent("proxy")

	if len(m.pool) <= 1 {
		logger.Warn().Str("proxy", id.String()).Msg("Only one proxy available, cannot blacklist")
		return false
	}
	if d <= 0 {
		d = m.opts.BlacklistDuration
	}

	now := m.opts.Now()
	m.blacklist[id.key()] = now.Add(d)
	m.opts.Metrics.ProxyBlacklisted()

	logger.Info().
		Str("proxy", id.String()).
		Dur("duration", d).
		Msg("Proxy blacklisted")

	m.rotateLocked(now)
	return true
}

func (m *Manager) purgeLocked(now time.Time) {
	for key, expiry := range m.blacklist {
		if now.After(expiry) {
			delete(m.blacklist, key)
			logging.WithComponent("proxy").Debug().Str("proxy_key", maskKey(key)).Msg("Blacklist entry expired")
		}
	}
}

func (m *Manager) availableLocked() []*Identity {
	available := make([]*Identity, 0, len(m.pool))
	for _, id := range m.pool {
		if _, benched := m.blacklist[id.key()]; !benched {
			available = append(available, id)
		}
	}
	return available
}

func (m *Manager) rotateLocked(now time.Time) {
	logger := logging.WithComponent("proxy")

	m.purgeLocked(now)
	available := m.availableLocked()
	if len(available) == 0 {
		logger.Warn().Msg("No available proxies to rotate to, reusing blacklisted ones")
		available = m.pool
		m.blacklist = make(map[string]time.Time)
	}

	candidates := available
	if m.current != nil && len(available) > 1 {
		others := make([]*Identity, 0, len(available))
		for _, id := range available {
			if id.key() != m.current.key() {
				others = append(others, id)
			}
		}
		if len(others) > 0 {
			candidates = others
		}
	}

	m.current = candidates[m.opts.Intn(len(candidates))]
	m.requests = 0
	m.lastRotation = now
	m.opts.Metrics.ProxyRotated()

	logger.Info().Str("proxy", m.current.String()).Msg("Rotated proxy")
}

func maskKey(key string) string {
	if i := strings.LastIndexByte(key, '@'); i >= 0 {
		return key[i+1:]
	}
	return key
}
