package domain

import "time"

// SwitchEvent records one strategy switch. Append-only.
type SwitchEvent struct {
	SessionID         string
	Timestamp         time.Time
	From              Strategy
	To                Strategy
	Reason            string
	ConsecutiveLosses int // losses at the moment of the switch
}

// SubscriptionType is the stream a subscription feeds.
type SubscriptionType string

// Subscription types
const (
	SubscriptionTicks    SubscriptionType = "ticks"
	SubscriptionBalance  SubscriptionType = "balance"
	SubscriptionProposal SubscriptionType = "proposal"
	SubscriptionContract SubscriptionType = "contract"
)
