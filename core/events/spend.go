package events

import (
	"math/big"
	"strconv"
	"strings"

	"spendgate/core/types"
)

const (
	// TypeSpendExecuted is emitted whenever a delegated spend completes.
	TypeSpendExecuted = "spend.executed"
	// TypeSpendPolicyUpdated is emitted when an administrator rewrites a
	// principal's spend policy.
	TypeSpendPolicyUpdated = "spend.policy_updated"
	// TypeSpendPaused is emitted when the executor halts new executions.
	TypeSpendPaused = "spend.paused"
	// TypeSpendResumed is emitted when the executor re-admits executions.
	TypeSpendResumed = "spend.resumed"
	// TypeSpendRecovered is emitted when stray executor funds are swept.
	TypeSpendRecovered = "spend.recovered"
)

// SpendExecuted describes a completed delegated spend. ReceivedAmount stays
// nil when the forwarding venue does not report an output amount; consumers
// must not read an absent value as zero.
type SpendExecuted struct {
	RecordID       string
	Principal      string
	Kind           string
	Amount         *big.Int
	ForwardStatus  string
	ReceivedAmount *big.Int
	Day            int64
	Timestamp      int64
}

func (SpendExecuted) EventType() string { return TypeSpendExecuted }

func (e SpendExecuted) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	attrs := map[string]string{
		"recordId":      strings.TrimSpace(e.RecordID),
		"principal":     strings.TrimSpace(e.Principal),
		"kind":          strings.TrimSpace(e.Kind),
		"amount":        amount.String(),
		"forwardStatus": strings.TrimSpace(e.ForwardStatus),
		"day":           strconv.FormatInt(e.Day, 10),
		"timestamp":     strconv.FormatInt(e.Timestamp, 10),
	}
	if e.ReceivedAmount != nil {
		attrs["receivedAmount"] = e.ReceivedAmount.String()
	}
	return &types.Event{Type: TypeSpendExecuted, Attributes: attrs}
}

// SpendPolicyUpdated records the full policy written for a principal.
type SpendPolicyUpdated struct {
	Principal string
	DailyCap  *big.Int
	LikeCap   *big.Int
	RepostCap *big.Int
	Timestamp int64
}

func (SpendPolicyUpdated) EventType() string { return TypeSpendPolicyUpdated }

func (e SpendPolicyUpdated) Event() *types.Event {
	format := func(v *big.Int) string {
		if v == nil {
			return "0"
		}
		return v.String()
	}
	return &types.Event{
		Type: TypeSpendPolicyUpdated,
		Attributes: map[string]string{
			"principal": strings.TrimSpace(e.Principal),
			"dailyCap":  format(e.DailyCap),
			"likeCap":   format(e.LikeCap),
			"repostCap": format(e.RepostCap),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// SpendPaused marks the moment the executor stopped admitting executions.
type SpendPaused struct {
	Timestamp int64
}

func (SpendPaused) EventType() string { return TypeSpendPaused }

func (e SpendPaused) Event() *types.Event {
	return &types.Event{
		Type:       TypeSpendPaused,
		Attributes: map[string]string{"timestamp": strconv.FormatInt(e.Timestamp, 10)},
	}
}

// SpendResumed marks the moment the executor re-admitted executions.
type SpendResumed struct {
	Timestamp int64
}

func (SpendResumed) EventType() string { return TypeSpendResumed }

func (e SpendResumed) Event() *types.Event {
	return &types.Event{
		Type:       TypeSpendResumed,
		Attributes: map[string]string{"timestamp": strconv.FormatInt(e.Timestamp, 10)},
	}
}

// SpendRecovered records an emergency sweep of executor-held funds.
type SpendRecovered struct {
	To        string
	Amount    *big.Int
	Timestamp int64
}

func (SpendRecovered) EventType() string { return TypeSpendRecovered }

func (e SpendRecovered) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &types.Event{
		Type: TypeSpendRecovered,
		Attributes: map[string]string{
			"to":        strings.TrimSpace(e.To),
			"amount":    amount.String(),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}
