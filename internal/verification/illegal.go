package verification

import (
	"context"
	"sync"
)

// IllegalMethod stands in for methods we know but never run. Verify always
// fails and cancels the request.
type IllegalMethod struct {
	host   Host
	method string
	once   sync.Once
	done   chan struct{}
}

// IllegalMethodFactory returns a factory producing IllegalMethod for method.
func IllegalMethodFactory(method string) Factory {
	return func(host Host, _ *Event) Verifier {
		return &IllegalMethod{host: host, method: method, done: make(chan struct{})}
	}
}

func (v *IllegalMethod) Method() string { return v.method }

func (v *IllegalMethod) Verify(ctx context.Context) error {
	c := &Cancellation{Code: CodeUnknownMethod, Reason: "verification is not possible with " + v.method}
	v.host.Fail(ctx, c)
	v.Cancel(c)
	return c
}

func (v *IllegalMethod) HandleEvent(context.Context, *Event) error { return nil }

func (v *IllegalMethod) Cancel(error) { v.once.Do(func() { close(v.done) }) }

func (v *IllegalMethod) Done() <-chan struct{} { return v.done }
