package globalstate

import (
	"context"
	"time"
)

// SetInfo summarises one Set for observability hooks.
type SetInfo struct {
	Store    string
	Kind     Kind
	Reducer  string
	Keys     []string
	Notified int
	Duration time.Duration
}

// Observability receives lifecycle hooks from a Manager. The otel and
// prometheus sub-packages provide implementations.
type Observability interface {
	// OnSetStart is called before the partial update is computed.
	OnSetStart(ctx context.Context, store string, kind Kind, reducer string) context.Context

	// OnSetComplete is called once the Set has notified its dispatchers, or failed.
	OnSetComplete(ctx context.Context, info SetInfo, err error)

	// OnDispatchStart is called before a dispatcher is notified.
	OnDispatchStart(ctx context.Context, store string, id DispatcherID, async bool) context.Context

	// OnDispatchComplete is called after a dispatcher returns. err is non-nil if it panicked.
	OnDispatchComplete(ctx context.Context, duration time.Duration, err error)
}
