package ports

import "context"

// Submitter performs one submission attempt for an opaque payload. The queue
// treats the payload and the target endpoint as the submitter's business;
// a nil return marks the attempt completed, any error marks it failed.
type Submitter interface {
	Submit(ctx context.Context, payload []byte) error
}

// SubmitterFunc adapts an ordinary function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, payload []byte) error

func (f SubmitterFunc) Submit(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}
