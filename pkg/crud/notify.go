package crud

import (
	"context"
	"errors"
	"time"
)

// Operation names one of the generated routes.
type Operation string

const (
	OpList      Operation = "get_all"
	OpCreate    Operation = "create"
	OpDeleteAll Operation = "delete_all"
	OpGet       Operation = "get_one"
	OpUpdate    Operation = "update"
	OpDeleteOne Operation = "delete_one"
)

// Event describes a successful mutation. Data is the entity after create and update, the removed
// entity after delete_one, and nil after delete_all.
type Event struct {
	Resource  string    `json:"resource"`
	Operation Operation `json:"operation"`
	Key       any       `json:"key,omitempty"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

// Notifier receives an Event after each successful mutation. Errors are logged and counted by
// the router; they never fail the request.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Notifiers fans an event out to several sinks. Every sink is called and their errors joined.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
