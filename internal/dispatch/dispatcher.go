package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/registry"
	"StayRelay/internal/stream"
	"StayRelay/pkg/logger"
)

// Resolver is the subset of the registry the dispatcher needs.
type Resolver interface {
	Handle(id string) (registry.Handle, error)
}

// Result describes a finished dispatch.
type Result struct {
	Stats stream.RelayStats
}

// Forwarded reports whether any downstream event reached the caller.
func (r Result) Forwarded() bool {
	return r.Stats.Events > 0
}

// Dispatcher resolves a target agent and relays its stream into a sink.
type Dispatcher struct {
	resolver Resolver
	relay    []stream.RelayOption
	log      *slog.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRelayOptions passes options to every relay.
func WithRelayOptions(opts ...stream.RelayOption) Option {
	return func(d *Dispatcher) {
		d.relay = append(d.relay, opts...)
	}
}

// NewDispatcher creates a dispatcher backed by resolver.
func NewDispatcher(resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{resolver: resolver, log: logger.Named("dispatch")}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch sends msg to the agent registered under targetID and relays its
// events into sink until the downstream transport ends. Registry misses,
// unavailable handles, transport failures and empty streams are all reported
// as CodeRoutingUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, targetID string, msg stream.Message, sink stream.Sink) (Result, error) {
	if d == nil || d.resolver == nil {
		return Result{}, xerrors.New(CodeRoutingUnavailable, UnavailableMessage)
	}

	handle, err := d.resolver.Handle(targetID)
	if err != nil {
		return Result{}, xerrors.Wrap(CodeRoutingUnavailable, err, UnavailableMessage,
			xerrors.WithMetadata("target", targetID))
	}

	body, err := handle.Stream(ctx, msg)
	if err != nil {
		return Result{}, asUnavailable(err, targetID)
	}
	defer body.Close()

	stats, err := stream.Relay(ctx, body, sink, d.relay...)
	result := Result{Stats: stats}
	if stats.Malformed > 0 {
		d.log.Warn("下游事件流包含坏帧", slog.String("target", targetID), slog.Int("malformed", stats.Malformed))
	}
	if err != nil {
		return result, xerrors.Wrap(CodeRoutingUnavailable, err, UnavailableMessage,
			xerrors.WithMetadata("target", targetID),
			xerrors.WithMetadata("forwarded", fmt.Sprintf("%d", stats.Events)))
	}
	if stats.Events == 0 {
		return result, xerrors.New(CodeRoutingUnavailable, UnavailableMessage,
			xerrors.WithMetadata("target", targetID),
			xerrors.WithMetadata("reason", "empty stream"))
	}
	return result, nil
}

func asUnavailable(err error, targetID string) error {
	var coded *xerrors.Error
	if errors.As(err, &coded) && coded.Code() == CodeRoutingUnavailable {
		return err
	}
	return xerrors.Wrap(CodeRoutingUnavailable, err, UnavailableMessage, xerrors.WithMetadata("target", targetID))
}
