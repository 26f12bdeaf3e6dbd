package model

import "time"

type Role string

const (
	RoleClient Role = "client"
	RoleLawyer Role = "lawyer"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleLawyer
}

type PricingMode string

const (
	PricingFlat     PricingMode = "flat"
	PricingFixedFee PricingMode = "fixed_fee"
)

type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "pending"
	ConsultationAccepted  ConsultationStatus = "accepted"
	ConsultationCompleted ConsultationStatus = "completed"
	ConsultationRejected  ConsultationStatus = "rejected"
)

// SessionTimerState is the record mirrored to the keyed store on every live tick.
type SessionTimerState struct {
	ElapsedSeconds int  `json:"elapsedSeconds"`
	BillingStarted bool `json:"billingStarted"`
	WarningIssued  bool `json:"warningIssued"`
	IsActive       bool `json:"isActive"`
}

type Consultation struct {
	ID            string
	ClientID      string
	LawyerID      string
	RoomURL       string
	RatePerMinute float64
	Balance       float64
	Status        ConsultationStatus
	CreatedAt     time.Time
}

// PartyRole reports which side of the consultation userID is on.
func (c *Consultation) PartyRole(userID string) (Role, bool) {
	switch userID {
	case c.ClientID:
		return RoleClient, true
	case c.LawyerID:
		return RoleLawyer, true
	default:
		return "", false
	}
}

// UserID returns the user on the given side of the consultation.
func (c *Consultation) UserID(role Role) string {
	if role == RoleLawyer {
		return c.LawyerID
	}
	return c.ClientID
}

type NotificationKind string

const (
	NotifyBillingStarted   NotificationKind = "billing_started"
	NotifyLowBalance       NotificationKind = "low_balance"
	NotifyBalanceExhausted NotificationKind = "balance_exhausted"
	NotifyStatus           NotificationKind = "status"
	NotifySessionEnded     NotificationKind = "session_ended"
)

// Notification is a one-shot toast or alert for the page UI.
type Notification struct {
	SessionID string           `json:"session_id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Terminal  bool             `json:"terminal,omitempty"`
}

// Display is what the page renders every second.
type Display struct {
	SessionID      string  `json:"session_id"`
	Role           Role    `json:"role"`
	Clock          string  `json:"clock"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Cost           string  `json:"cost,omitempty"`
	CostValue      float64 `json:"cost_value"`
	Rate           string  `json:"rate,omitempty"`
	Status         string  `json:"status"`
	Live           bool    `json:"live"`
	Terminated     bool    `json:"terminated"`
}

type OutcomeKind string

const (
	// OutcomeReload means the left event came from a page unload; nothing ran.
	OutcomeReload   OutcomeKind = "reload"
	OutcomePaid     OutcomeKind = "paid"
	OutcomeFree     OutcomeKind = "free"
	OutcomeFallback OutcomeKind = "fallback"
	OutcomeEnded    OutcomeKind = "ended"
)

type Outcome struct {
	Kind         OutcomeKind `json:"kind"`
	Cost         float64     `json:"cost"`
	Message      string      `json:"message,omitempty"`
	PromptRating bool        `json:"prompt_rating"`
	RedirectURL  string      `json:"redirect_url,omitempty"`
}
