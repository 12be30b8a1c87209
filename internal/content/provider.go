// Package content generates the human-looking filler a simulated chat needs:
// first names, contact handles, sentences, and the random integers used for
// room ids, queue sizes and pacing. A single Provider is shared by every
// session in a run, so all methods are goroutine-safe.
package content

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// HandleDomain is appended to a display name to form a contact handle.
const HandleDomain = "example.com"

// Sentence length bounds in words.
const (
	minSentenceWords = 12
	maxSentenceWords = 18
)

// Provider wraps a seeded faker behind a mutex.
type Provider struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
	seed  uint64
}

// New creates a Provider. A zero seed picks a random one; any other value
// makes every draw reproducible.
func New(seed uint64) *Provider {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Provider{faker: gofakeit.New(seed), seed: seed}
}

// Seed returns the seed the provider was built with, so a run can be logged
// and replayed.
func (p *Provider) Seed() uint64 {
	return p.seed
}

// FirstName returns a random first name.
func (p *Provider) FirstName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faker.FirstName()
}

// Handle derives a contact handle from a display name.
func (p *Provider) Handle(name string) string {
	return name + "@" + HandleDomain
}

// Sentence returns a random sentence of 12 to 18 words.
func (p *Provider) Sentence() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faker.Sentence(p.faker.IntRange(minSentenceWords, maxSentenceWords))
}

// Sentences returns n random sentences.
func (p *Provider) Sentences(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.Sentence())
	}
	return out
}

// IntRange returns a uniform integer in [lo, hi], both inclusive.
func (p *Provider) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faker.IntRange(lo, hi)
}

// Shuffle permutes s in place with a Fisher-Yates pass drawn from p.
func Shuffle[T any](p *Provider, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := p.IntRange(0, i)
		s[i], s[j] = s[j], s[i]
	}
}

// Pacer draws the randomized think time used before every delayed session
// action.
type Pacer struct {
	provider *Provider
	min      time.Duration
	max      time.Duration
}

// NewPacer returns a Pacer drawing whole milliseconds in [min, max].
func NewPacer(p *Provider, min, max time.Duration) Pacer {
	if max < min {
		max = min
	}
	return Pacer{provider: p, min: min, max: max}
}

// Delay returns the next randomized delay.
func (pc Pacer) Delay() time.Duration {
	ms := pc.provider.IntRange(int(pc.min/time.Millisecond), int(pc.max/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}
