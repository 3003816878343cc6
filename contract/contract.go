package contract

import (
	"context"
	"reflect"

	"github.com/asynctalk/chatroom/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink observes every broadcast envelope after mailbox delivery.
// Sinks are best-effort side channels (transcript file, timelines);
// a failing sink never aborts a broadcast.
type EventSink interface {
	Consume(ctx context.Context, e domain.Envelope) error
}

// DeliverySink is the transport half of a delivery channel: the stream
// loop drains mailboxes and pushes frames through it. Keepalives keep
// idle transports from timing out while the mailbox is empty.
type DeliverySink interface {
	SendBatch(ctx context.Context, batch []domain.Envelope) error
	SendKeepalive(ctx context.Context) error
}
