package order

import "time"

// EventKind 订单事件类型，每次状态变化都会发布一个事件。
type EventKind string

const (
	EventCreated         EventKind = "CREATED"
	EventAccepted        EventKind = "ACCEPTED"
	EventRiskRejected    EventKind = "RISK_REJECTED"
	EventAcked           EventKind = "ACKED"
	EventFilled          EventKind = "FILLED"
	EventVenueRejected   EventKind = "VENUE_REJECTED"
	EventCancelRequested EventKind = "CANCEL_REQUESTED"
	EventCancelled       EventKind = "CANCELLED"
)

// Event is published for every transition. Seq is global and strictly increasing.
// Order carries the post-transition snapshot without fill history.
type Event struct {
	Seq    uint64
	Kind   EventKind
	Order  Snapshot
	Fill   *Fill
	Reason RejectReason
	Detail string
	At     time.Time
}

// IsRiskReject 是否风控拒单事件。
func (e Event) IsRiskReject() bool {
	return e.Kind == EventRiskRejected
}

// Listener consumes order events. OnOrderEvent runs inside the OMS critical section, so it
// must not block and must not call back into the Manager.
type Listener interface {
	OnOrderEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnOrderEvent(ev Event) { f(ev) }
