package event

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Sink is the durable side of emission. The event log implements it.
type Sink interface {
	Append(ctx context.Context, ev *Event) error
}

// Emitter couples the event log and the Bus: every event is persisted first,
// then fanned out, synchronously and in emission order. This makes the log
// the order of record and guarantees a late-joining observer replaying the
// log and then attaching live never sees events out of order.
type Emitter struct {
	sink Sink
	bus  *Bus
}

// NewEmitter creates an Emitter. Either argument may be nil (e.g. a bus-less
// batch run, or a log-less test), the other side still works.
func NewEmitter(sink Sink, bus *Bus) *Emitter {
	return &Emitter{sink: sink, bus: bus}
}

// Emit persists then publishes the event. A persistence failure is returned
// to the caller but does not suppress fan-out: live observers must never go
// blind because the disk is unhappy.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	var err error
	if e.sink != nil {
		if err = e.sink.Append(ctx, &ev); err != nil {
			log.Error().Err(err).
				Str("session_id", ev.SessionID).
				Str("event_type", string(ev.Type)).
				Msg("event_persist_failed")
		}
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	return err
}
