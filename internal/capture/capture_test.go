package capture_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/readalong/internal/capture"
	"github.com/MrWong99/readalong/pkg/assess"
)

const passage = "the quick brown fox jumps over the lazy dog near the river bank"

func TestEcho(t *testing.T) {
	t.Parallel()

	got, err := capture.Echo{}.Transcribe(context.Background(), capture.Request{
		Expected:   passage,
		Transcript: "the quick brown",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "the quick brown" {
		t.Errorf("got %q, want client transcript", got)
	}
}

func TestEcho_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (capture.Echo{}).Transcribe(ctx, capture.Request{Transcript: "x"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestSimulated_ZeroRatesReadsExactly(t *testing.T) {
	t.Parallel()

	s := capture.NewSimulated(42)
	got, err := s.Transcribe(context.Background(), capture.Request{Expected: passage})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != passage {
		t.Errorf("got %q, want exact reading", got)
	}
}

func TestSimulated_Reproducible(t *testing.T) {
	t.Parallel()

	opts := []capture.SimulatedOption{
		capture.WithDropRate(0.2),
		capture.WithInsertRate(0.2),
		capture.WithPerturbRate(0.2),
	}
	a := capture.NewSimulated(7, opts...)
	b := capture.NewSimulated(7, opts...)
	req := capture.Request{Expected: passage}

	for i := range 5 {
		ga, _ := a.Transcribe(context.Background(), req)
		gb, _ := b.Transcribe(context.Background(), req)
		if ga != gb {
			t.Fatalf("run %d: same seed produced %q and %q", i, ga, gb)
		}
	}
}

func TestSimulated_DropAll(t *testing.T) {
	t.Parallel()

	s := capture.NewSimulated(1, capture.WithDropRate(1))
	got, _ := s.Transcribe(context.Background(), capture.Request{Expected: passage})
	if got != "" {
		t.Errorf("got %q, want empty transcript", got)
	}
}

func TestSimulated_InsertAll(t *testing.T) {
	t.Parallel()

	s := capture.NewSimulated(1, capture.WithInsertRate(1))
	got, _ := s.Transcribe(context.Background(), capture.Request{Expected: "one two three"})
	words := strings.Fields(got)
	if len(words) != 6 {
		t.Fatalf("got %q, want every word followed by a filler", got)
	}
	for i, want := range []string{"one", "two", "three"} {
		if words[2*i] != want {
			t.Errorf("word %d = %q, want %q", 2*i, words[2*i], want)
		}
	}
}

func TestSimulated_PerturbChangesEveryWord(t *testing.T) {
	t.Parallel()

	s := capture.NewSimulated(3, capture.WithPerturbRate(1))
	got, _ := s.Transcribe(context.Background(), capture.Request{Expected: "reading is fun a"})
	words := strings.Fields(got)
	if len(words) != 4 {
		t.Fatalf("got %q, want 4 words", got)
	}
	for i, orig := range []string{"reading", "is", "fun", "a"} {
		if words[i] == orig {
			t.Errorf("word %d %q was not perturbed", i, orig)
		}
	}
}

func TestSimulated_RatesAreClamped(t *testing.T) {
	t.Parallel()

	s := capture.NewSimulated(5, capture.WithDropRate(-3), capture.WithInsertRate(-1), capture.WithPerturbRate(-0.5))
	got, _ := s.Transcribe(context.Background(), capture.Request{Expected: passage})
	if got != passage {
		t.Errorf("negative rates should behave as zero, got %q", got)
	}
}

// The aligner must classify every expected word of a simulated reading.
func TestSimulated_AlignsWithEveryExpectedToken(t *testing.T) {
	t.Parallel()

	s := capture.NewSimulated(11,
		capture.WithDropRate(0.3),
		capture.WithInsertRate(0.3),
		capture.WithPerturbRate(0.3),
	)
	for range 20 {
		spoken, err := s.Transcribe(context.Background(), capture.Request{Expected: passage})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		res := assess.Align(passage, spoken)
		if len(res.Tokens) != len(strings.Fields(passage)) {
			t.Fatalf("spoken %q: %d tokens classified, want %d", spoken, len(res.Tokens), len(strings.Fields(passage)))
		}
		if res.Score < 0 || res.Score > 1 {
			t.Fatalf("score %v out of range", res.Score)
		}
	}
}
