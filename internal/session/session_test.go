package session

import (
	"math/rand"
	"testing"
	"time"
)

func TestShouldRotate(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if ShouldRotate(base.Add(time.Hour), base, 168*time.Hour) {
		t.Fatalf("fresh identity should not rotate")
	}
	if !ShouldRotate(base.Add(169*time.Hour), base, 168*time.Hour) {
		t.Fatalf("expired identity should rotate")
	}
	if !ShouldRotate(base, time.Time{}, 168*time.Hour) {
		t.Fatalf("zero createdAt should rotate")
	}
	// Exactly at the lifetime boundary the identity is still valid.
	if ShouldRotate(base.Add(168*time.Hour), base, 168*time.Hour) {
		t.Fatalf("identity at exact lifetime should not rotate yet")
	}
}

func TestAcquire_KeepsIdentityWithinLifetime(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{
		Lifetime: 168 * time.Hour,
		Rand:     rand.New(rand.NewSource(1)),
		Now:      func() time.Time { return now },
	}

	first := s.Acquire()
	now = now.Add(24 * time.Hour)
	second := s.Acquire()
	if first.CreatedAt != second.CreatedAt {
		t.Fatalf("identity rotated within lifetime")
	}
	if second.Age(now) != 24*time.Hour {
		t.Fatalf("age=%v want 24h", second.Age(now))
	}
}

func TestAcquire_RotatesAfterLifetime(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{
		Lifetime: time.Hour,
		Rand:     rand.New(rand.NewSource(1)),
		Now:      func() time.Time { return now },
	}

	first := s.Acquire()
	now = now.Add(2 * time.Hour)
	second := s.Acquire()
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Fatalf("identity did not rotate after lifetime")
	}
	if second.Headers["User-Agent"] != second.UserAgent {
		t.Fatalf("User-Agent header not set from chosen agent")
	}
}

func TestPickProfile_RespectsWeights(t *testing.T) {
	profiles := []Profile{
		{Name: "heavy", Weight: 90, Agents: []string{"a"}},
		{Name: "light", Weight: 10, Agents: []string{"b"}},
	}
	r := rand.New(rand.NewSource(42))

	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		counts[pickProfile(r, profiles).Name]++
	}

	heavy := float64(counts["heavy"]) / n
	if heavy < 0.85 || heavy > 0.95 {
		t.Fatalf("heavy share=%.3f want ~0.90", heavy)
	}
	if counts["light"] == 0 {
		t.Fatalf("light profile never selected")
	}
}

func TestPickProfile_SingleProfile(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	profiles := []Profile{{Name: "only", Weight: 1, Agents: []string{"a"}}}
	for i := 0; i < 100; i++ {
		if got := pickProfile(r, profiles).Name; got != "only" {
			t.Fatalf("got=%q want only", got)
		}
	}
}

func TestDefaultProfiles_Selectable(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	seen := map[string]bool{}
	for i := 0; i < 5000; i++ {
		seen[pickProfile(r, DefaultProfiles).Name] = true
	}
	for _, p := range DefaultProfiles {
		if !seen[p.Name] {
			t.Fatalf("profile %q never selected", p.Name)
		}
		if len(p.Agents) == 0 {
			t.Fatalf("profile %q has no agents", p.Name)
		}
	}
}
