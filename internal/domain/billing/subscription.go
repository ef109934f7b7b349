package billing

import "fmt"

// SubscriptionStatus is the persisted status of a local subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// String returns the string representation of SubscriptionStatus
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known value
func (s SubscriptionStatus) IsValid() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusCancelled
}

// SubscriptionState is the lifecycle state of a subscription.
//
//	pending -> active <-> updated -> cancelled
//
// pending exists only in memory until the local row and the remote
// subscription have both been created.
type SubscriptionState string

const (
	StatePending   SubscriptionState = "pending"
	StateActive    SubscriptionState = "active"
	StateUpdated   SubscriptionState = "updated"
	StateCancelled SubscriptionState = "cancelled"
)

// SubscriptionEvent drives a state transition
type SubscriptionEvent string

const (
	EventCreate      SubscriptionEvent = "create"
	EventChangePrice SubscriptionEvent = "change_price"
	EventCancel      SubscriptionEvent = "cancel"
)

var subscriptionTransitions = map[SubscriptionState]map[SubscriptionEvent]SubscriptionState{
	StatePending: {
		EventCreate: StateActive,
	},
	StateActive: {
		EventChangePrice: StateUpdated,
		EventCancel:      StateCancelled,
	},
	StateUpdated: {
		EventChangePrice: StateUpdated,
		EventCancel:      StateCancelled,
	},
}

// Next returns the state reached from s by event, or an error if the event
// is not allowed in s.
func (s SubscriptionState) Next(event SubscriptionEvent) (SubscriptionState, error) {
	if next, ok := subscriptionTransitions[s][event]; ok {
		return next, nil
	}
	return s, fmt.Errorf("subscription: cannot %s a %s subscription", event, s)
}

// Status maps the lifecycle state to the persisted status
func (s SubscriptionState) Status() SubscriptionStatus {
	if s == StateCancelled {
		return SubscriptionStatusCancelled
	}
	return SubscriptionStatusActive
}

// ProrationBehavior controls how the provider prorates a price change
type ProrationBehavior string

const (
	ProrationCreateProrations ProrationBehavior = "create_prorations"
	ProrationNone             ProrationBehavior = "none"
	ProrationAlwaysInvoice    ProrationBehavior = "always_invoice"
)

// IsValid returns true if the behavior is a known value
func (p ProrationBehavior) IsValid() bool {
	switch p {
	case ProrationCreateProrations, ProrationNone, ProrationAlwaysInvoice:
		return true
	}
	return false
}

// CancelPolicy holds the options used when a subscription is cancelled.
// It belongs to the subscriber instance, not to the subscription type.
type CancelPolicy struct {
	InvoiceNow bool
	Prorate    bool
}
