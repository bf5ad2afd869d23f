package client

import "context"

// Outcome carries either a result or the error that ended a request.
type Outcome struct {
	Result *Result
	Err    error
}

// Go submits a request through send and returns a channel that receives
// its single outcome. The channel is buffered, so an abandoned outcome
// does not block the worker.
func Go(send func(success SuccessFunc, failure FailureFunc)) <-chan Outcome {
	ch := make(chan Outcome, 1)
	send(
		func(res *Result) { ch <- Outcome{Result: res} },
		func(res *Result, err error) { ch <- Outcome{Result: res, Err: err} },
	)
	return ch
}

// Wait blocks until the outcome arrives or ctx is done.
func Wait(ctx context.Context, ch <-chan Outcome) (*Result, error) {
	select {
	case o := <-ch:
		return o.Result, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch is the blocking form of SendRequest.
func (c *Connection) Fetch(ctx context.Context, path string) (*Result, error) {
	return Wait(ctx, Go(func(s SuccessFunc, f FailureFunc) { c.SendRequest(path, s, f) }))
}

// FetchRaw is the blocking form of SendRawRequest.
func (c *Connection) FetchRaw(ctx context.Context, path string) (*Result, error) {
	return Wait(ctx, Go(func(s SuccessFunc, f FailureFunc) { c.SendRawRequest(path, s, f) }))
}

// Post is the blocking form of SendPostRequest.
func (c *Connection) Post(ctx context.Context, path, data string) (*Result, error) {
	return Wait(ctx, Go(func(s SuccessFunc, f FailureFunc) { c.SendPostRequest(path, data, s, f) }))
}
