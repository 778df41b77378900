package capture

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// fillers are inserted by [Simulated] to mimic hesitations.
var fillers = []string{"um", "uh", "the", "and", "so"}

// Simulated generates a transcript from the expected text by randomly dropping,
// inserting and misreading words. With a fixed seed the output sequence is
// reproducible.
type Simulated struct {
	dropRate    float64
	insertRate  float64
	perturbRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatedOption configures a [Simulated] transcriber.
type SimulatedOption func(*Simulated)

// WithDropRate sets the probability that an expected word is skipped.
func WithDropRate(p float64) SimulatedOption {
	return func(s *Simulated) { s.dropRate = clampRate(p) }
}

// WithInsertRate sets the probability that a filler word follows a read word.
func WithInsertRate(p float64) SimulatedOption {
	return func(s *Simulated) { s.insertRate = clampRate(p) }
}

// WithPerturbRate sets the probability that a read word is misspoken.
func WithPerturbRate(p float64) SimulatedOption {
	return func(s *Simulated) { s.perturbRate = clampRate(p) }
}

// NewSimulated returns a Simulated transcriber. A zero seed picks one from the
// current time. All rates default to zero, which makes it an exact reader.
func NewSimulated(seed int64, opts ...SimulatedOption) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulated{
		rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe returns a noisy reading of req.Expected. Audio and any client
// transcript are ignored.
func (s *Simulated) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	words := strings.Fields(req.Expected)
	out := make([]string, 0, len(words))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range words {
		if s.roll(s.dropRate) {
			continue
		}
		if s.roll(s.perturbRate) {
			w = s.perturb(w)
		}
		out = append(out, w)
		if s.roll(s.insertRate) {
			out = append(out, fillers[s.rng.IntN(len(fillers))])
		}
	}
	return strings.Join(out, " "), nil
}

func (s *Simulated) roll(p float64) bool {
	return p > 0 && s.rng.Float64() < p
}

// perturb swaps two adjacent letters, or doubles the only one.
func (s *Simulated) perturb(w string) string {
	r := []rune(w)
	if len(r) < 2 {
		return w + w
	}
	i := s.rng.IntN(len(r) - 1)
	r[i], r[i+1] = r[i+1], r[i]
	if string(r) == w {
		// Swapping equal letters changes nothing; drop the last one instead.
		_, size := utf8.DecodeLastRuneInString(w)
		return w[:len(w)-size]
	}
	return string(r)
}

func clampRate(p float64) float64 {
	return min(max(p, 0), 1)
}

var _ Transcriber = (*Simulated)(nil)
