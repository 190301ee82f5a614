// Package coach is the outward edge of the pipeline: accumulated
// transcripts go out, suggested answers come back. Everything about
// prompting, retrieval or context management lives with the
// collaborator behind the interface; this package only defines the
// text-in/text-out boundary and its adapters.
package coach

import "context"

// Coach turns an interview transcript fragment into a suggested
// response for the candidate.
type Coach interface {
	Respond(ctx context.Context, transcript string) (string, error)
}
