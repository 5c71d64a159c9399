// Package session maintains the browsing identity used when reading the
// index source. One identity lives for a configured lifetime (a week by
// default) and is replaced, never mutated, when it expires.
package session

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Profile is one named browser fingerprint: a weight reflecting assumed
// market share, the user-agent variants seen in the wild for it, and the
// header set that browser actually sends.
type Profile struct {
	Name    string
	Weight  int
	Agents  []string
	Headers map[string]string
}

// Identity is an immutable outbound fingerprint. Headers includes the
// chosen User-Agent.
type Identity struct {
	Profile   string
	UserAgent string
	Headers   map[string]string
	CreatedAt time.Time
}

// Age reports how old the identity is at now.
func (id Identity) Age(now time.Time) time.Duration {
	if id.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(id.CreatedAt)
}

// Session owns the current identity. Safe for use from the single pipeline
// goroutine plus read-only status queries.
type Session struct {
	Lifetime time.Duration
	Logger   *zap.Logger
	Profiles []Profile
	Rand     *rand.Rand
	Now      func() time.Time

	mu      sync.Mutex
	current *Identity
}

// Acquire returns the current identity, rotating first if it has expired.
func (s *Session) Acquire() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current == nil || ShouldRotate(now, s.current.CreatedAt, s.Lifetime) {
		id := s.rotate(now)
		s.current = &id
		if s.Logger != nil {
			s.Logger.Info("new browser identity",
				zap.String("profile", id.Profile),
				zap.String("user_agent", id.UserAgent),
			)
		}
	}
	return *s.current
}

// CurrentAge reports the age of the stored identity, zero if none exists yet.
func (s *Session) CurrentAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.Age(s.now())
}

func (s *Session) rotate(now time.Time) Identity {
	profiles := s.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	r := s.Rand
	if r == nil {
		r = rand.New(rand.NewSource(now.UnixNano()))
		s.Rand = r
	}

	p := pickProfile(r, profiles)
	agent := p.Agents[r.Intn(len(p.Agents))]

	headers := make(map[string]string, len(p.Headers)+1)
	for k, v := range p.Headers {
		headers[k] = v
	}
	headers["User-Agent"] = agent

	return Identity{
		Profile:   p.Name,
		UserAgent: agent,
		Headers:   headers,
		CreatedAt: now,
	}
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// ShouldRotate reports whether an identity created at createdAt has lived
// past lifetime as of now. A zero createdAt always rotates.
func ShouldRotate(now, createdAt time.Time, lifetime time.Duration) bool {
	if createdAt.IsZero() {
		return true
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return now.Sub(createdAt) > lifetime
}

// pickProfile selects a profile with probability proportional to its weight.
// The table is static and non-empty, so selection cannot fail.
func pickProfile(r *rand.Rand, profiles []Profile) Profile {
	total := 0
	for _, p := range profiles {
		if p.Weight > 0 {
			total += p.Weight
		}
	}
	if total <= 0 {
		return profiles[r.Intn(len(profiles))]
	}
	n := r.Intn(total)
	for _, p := range profiles {
		if p.Weight <= 0 {
			continue
		}
		if n < p.Weight {
			return p
		}
		n -= p.Weight
	}
	return profiles[len(profiles)-1]
}
