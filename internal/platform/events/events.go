// Package events publishes domain events after a unit of work commits.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	InvoiceCreated         = "invoice.created"
	InvoiceChargesAttached = "invoice.charges_attached"
	InvoiceVoided          = "invoice.voided"
	PaymentCreated         = "payment.created"
	PaymentCancelled       = "payment.cancelled"
	RefundCreated          = "refund.created"
	AdmissionAdmitted      = "admission.admitted"
	AdmissionTransferred   = "admission.transferred"
	AdmissionDischarged    = "admission.discharged"
)

type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Tenant     string          `json:"tenant,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func New(eventType, tenant string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Tenant:     tenant,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter is what services hold. It never fails the caller: a committed
// operation stays committed whether or not the broker accepted the event.
type Emitter struct {
	pub    Publisher
	logger zerolog.Logger
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	if pub == nil {
		pub = Noop{}
	}
	return &Emitter{pub: pub, logger: logger}
}

func (em *Emitter) Emit(ctx context.Context, eventType, tenant string, data any) {
	if em == nil {
		return
	}
	e, err := New(eventType, tenant, data)
	if err == nil {
		err = em.pub.Publish(ctx, e)
	}
	if err != nil {
		em.logger.Warn().Err(err).Str("event", eventType).Str("tenant", tenant).Msg("event not published")
	}
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
