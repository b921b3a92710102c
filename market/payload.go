// Package market builds the contract-invocation payloads submitted through
// the transaction queue: escrow, crowdfunding pool, and peer-to-peer
// transfer operations. Payloads are validated here, at build time, so the
// queue only ever sees well-formed content.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when an amount is zero or negative
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSameParty is returned when both sides of an agreement are the same account
	ErrSameParty = errors.New("parties must be distinct accounts")

	// ErrMissingParty is returned when a required account is empty
	ErrMissingParty = errors.New("missing account")

	// ErrPastDeadline is returned when a schedule points into the past
	ErrPastDeadline = errors.New("deadline is in the past")

	// ErrMilestoneSum is returned when milestone amounts do not add up to the escrow total
	ErrMilestoneSum = errors.New("milestone amounts must sum to the total")
)

// Operation names understood by the submission collaborator.
const (
	OpEscrowInit        = "escrow_initialize"
	OpEscrowMilestone   = "escrow_complete_milestone"
	OpEscrowTimeRelease = "escrow_release_time_based"
	OpEscrowDispute     = "escrow_dispute"
	OpEscrowResolve     = "escrow_resolve_dispute"
	OpEscrowWithdraw    = "escrow_withdraw"
	OpPoolInit          = "pool_initialize"
	OpPoolContribute    = "pool_contribute"
	OpPoolRefund        = "pool_refund"
	OpPoolFinalize      = "pool_finalize"
	OpP2PDirect         = "p2p_send_direct"
	OpP2PEscrow         = "p2p_send_with_escrow"
	OpP2PConfirm        = "p2p_confirm_receipt"
	OpP2PCancel         = "p2p_cancel"
)

type operation struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

func encode(op string, args any) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s args: %w", op, err)
	}
	return json.Marshal(operation{Op: op, Args: raw})
}

// Milestone is one escrow release step.
type Milestone struct {
	ID     uint32          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// EscrowInit describes a new escrow agreement between a client and a
// provider. Exactly one of Milestones or ReleaseTimes is expected; the
// release type mirrors which one is set.
type EscrowInit struct {
	Client     string          `json:"client"`
	Provider   string          `json:"provider"`
	Total      decimal.Decimal `json:"total"`
	Milestones []Milestone     `json:"milestones,omitempty"`
}

// Build validates the agreement and encodes it as a queue payload.
func (e EscrowInit) Build() ([]byte, error) {
	if e.Client == "" || e.Provider == "" {
		return nil, ErrMissingParty
	}
	if e.Client == e.Provider {
		return nil, ErrSameParty
	}
	if !e.Total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if len(e.Milestones) > 0 {
		sum := decimal.Zero
		for _, m := range e.Milestones {
			if !m.Amount.IsPositive() {
				return nil, ErrInvalidAmount
			}
			sum = sum.Add(m.Amount)
		}
		if !sum.Equal(e.Total) {
			return nil, ErrMilestoneSum
		}
	}

	return encode(OpEscrowInit, e)
}

// CompleteMilestone releases the funds attached to one milestone.
type CompleteMilestone struct {
	EscrowID    string `json:"escrow_id"`
	MilestoneID uint32 `json:"milestone_id"`
}

func (c CompleteMilestone) Build() ([]byte, error) {
	if c.EscrowID == "" {
		return nil, ErrMissingParty
	}
	return encode(OpEscrowMilestone, c)
}

// TimeRelease releases a scheduled tranche once its release time passes.
type TimeRelease struct {
	EscrowID string `json:"escrow_id"`
	Index    uint32 `json:"index"`
}

func (t TimeRelease) Build() ([]byte, error) {
	if t.EscrowID == "" {
		return nil, ErrMissingParty
	}
	return encode(OpEscrowTimeRelease, t)
}

// Dispute freezes an escrow pending resolution.
type Dispute struct {
	EscrowID string `json:"escrow_id"`
	RaisedBy string `json:"raised_by"`
}

func (d Dispute) Build() ([]byte, error) {
	if d.EscrowID == "" || d.RaisedBy == "" {
		return nil, ErrMissingParty
	}
	return encode(OpEscrowDispute, d)
}

// ResolveDispute settles a frozen escrow. RefundToClient true cancels the
// agreement and returns the held funds; false completes it in the provider's
// favor.
type ResolveDispute struct {
	EscrowID       string `json:"escrow_id"`
	RefundToClient bool   `json:"refund_to_client"`
}

func (r ResolveDispute) Build() ([]byte, error) {
	if r.EscrowID == "" {
		return nil, ErrMissingParty
	}
	return encode(OpEscrowResolve, r)
}

// Withdraw moves the provider's released balance out of the escrow.
type Withdraw struct {
	EscrowID string `json:"escrow_id"`
	Provider string `json:"provider"`
}

func (w Withdraw) Build() ([]byte, error) {
	if w.EscrowID == "" || w.Provider == "" {
		return nil, ErrMissingParty
	}
	return encode(OpEscrowWithdraw, w)
}

// PoolInit opens a crowdfunding pool with a goal and a deadline.
type PoolInit struct {
	Owner    string          `json:"owner"`
	Goal     decimal.Decimal `json:"goal"`
	Deadline time.Time       `json:"deadline"`
}

func (p PoolInit) Build() ([]byte, error) {
	if p.Owner == "" {
		return nil, ErrMissingParty
	}
	if !p.Goal.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if p.Deadline.Before(time.Now()) {
		return nil, ErrPastDeadline
	}
	return encode(OpPoolInit, p)
}

// Contribution pledges funds to an open pool.
type Contribution struct {
	PoolID      string          `json:"pool_id"`
	Contributor string          `json:"contributor"`
	Amount      decimal.Decimal `json:"amount"`
}

func (c Contribution) Build() ([]byte, error) {
	if c.PoolID == "" || c.Contributor == "" {
		return nil, ErrMissingParty
	}
	if !c.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return encode(OpPoolContribute, c)
}

// Refund reclaims a contribution from a failed pool.
type Refund struct {
	PoolID      string `json:"pool_id"`
	Contributor string `json:"contributor"`
}

func (r Refund) Build() ([]byte, error) {
	if r.PoolID == "" || r.Contributor == "" {
		return nil, ErrMissingParty
	}
	return encode(OpPoolRefund, r)
}

// Finalize closes a pool after its deadline: funded pools pay out to the
// owner, unfunded ones open refunds to contributors.
type Finalize struct {
	PoolID string `json:"pool_id"`
}

func (f Finalize) Build() ([]byte, error) {
	if f.PoolID == "" {
		return nil, ErrMissingParty
	}
	return encode(OpPoolFinalize, f)
}

// Transfer is a peer-to-peer payment, optionally held in escrow until the
// receiver confirms receipt.
type Transfer struct {
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	UseEscrow bool            `json:"use_escrow"`
}

func (t Transfer) Build() ([]byte, error) {
	if t.Sender == "" || t.Receiver == "" {
		return nil, ErrMissingParty
	}
	if t.Sender == t.Receiver {
		return nil, ErrSameParty
	}
	if !t.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	op := OpP2PDirect
	if t.UseEscrow {
		op = OpP2PEscrow
	}
	return encode(op, t)
}

// ConfirmReceipt releases an escrowed transfer to the receiver. Only the
// receiver confirms, and only while the transfer is still pending.
type ConfirmReceipt struct {
	TransferID string `json:"transfer_id"`
	Receiver   string `json:"receiver"`
}

func (c ConfirmReceipt) Build() ([]byte, error) {
	if c.TransferID == "" || c.Receiver == "" {
		return nil, ErrMissingParty
	}
	return encode(OpP2PConfirm, c)
}

// CancelTransfer returns a still-pending escrowed transfer to the sender.
type CancelTransfer struct {
	TransferID string `json:"transfer_id"`
	Sender     string `json:"sender"`
}

func (c CancelTransfer) Build() ([]byte, error) {
	if c.TransferID == "" || c.Sender == "" {
		return nil, ErrMissingParty
	}
	return encode(OpP2PCancel, c)
}
