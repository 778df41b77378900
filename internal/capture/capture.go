// Package capture defines the transcript source consulted for scored reading
// attempts.
//
// Speech recognition itself is out of scope: a [Transcriber] turns whatever
// the client captured into plain text for the alignment engine. [Echo] passes
// a client-side transcript through unchanged and [Simulated] fabricates
// plausible reading mistakes for demos and load tests.
package capture

import "context"

// Request describes one captured reading attempt.
type Request struct {
	// TaskID identifies the reading task the attempt belongs to.
	TaskID string

	// Expected is the reference text the learner was asked to read.
	Expected string

	// Transcript is the text the client already recognised, if any.
	Transcript string

	// Audio holds raw captured audio, if any. Its encoding is
	// transcriber-specific.
	Audio []byte
}

// Transcriber produces the spoken transcript for a reading attempt.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// TranscriberFunc adapts a function to [Transcriber].
type TranscriberFunc func(ctx context.Context, req Request) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Echo returns the request's client-side transcript verbatim. An empty
// transcript is valid and scores as an attempt with nothing read.
type Echo struct{}

// Transcribe returns req.Transcript.
func (Echo) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return req.Transcript, nil
}

var (
	_ Transcriber = Echo{}
	_ Transcriber = TranscriberFunc(nil)
)
