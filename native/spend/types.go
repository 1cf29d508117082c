package spend

import (
	"math/big"
	"strings"

	"spendgate/crypto"
)

// ActionKind identifies the delegated engagement action being paid for. The
// set is closed; anything else is rejected with ErrUnknownActionKind.
type ActionKind string

const (
	// ActionLike pays for a delegated like.
	ActionLike ActionKind = "like"
	// ActionRepost pays for a delegated repost.
	ActionRepost ActionKind = "repost"
)

// ParseActionKind normalises a raw tag into a known action kind.
func ParseActionKind(raw string) (ActionKind, error) {
	switch ActionKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionLike:
		return ActionLike, nil
	case ActionRepost:
		return ActionRepost, nil
	default:
		return "", ErrUnknownActionKind
	}
}

// Valid reports whether the kind belongs to the closed set.
func (k ActionKind) Valid() bool {
	return k == ActionLike || k == ActionRepost
}

// Policy holds the per-principal spend limits. A zero cap means the limit is
// not configured and executions against it must be rejected.
type Policy struct {
	DailyCap  *big.Int
	LikeCap   *big.Int
	RepostCap *big.Int
}

// Clone returns a deep copy so callers cannot mutate stored limits.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	return &Policy{
		DailyCap:  cloneBigInt(p.DailyCap),
		LikeCap:   cloneBigInt(p.LikeCap),
		RepostCap: cloneBigInt(p.RepostCap),
	}
}

// ActionCap resolves the per-execution cap for the provided kind.
func (p *Policy) ActionCap(kind ActionKind) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	switch kind {
	case ActionLike:
		return cloneBigInt(p.LikeCap)
	case ActionRepost:
		return cloneBigInt(p.RepostCap)
	default:
		return big.NewInt(0)
	}
}

// ForwardStatus describes the observed outcome of the forwarding call.
type ForwardStatus string

const (
	// ForwardStatusDelivered means the venue accepted the forwarded payload.
	ForwardStatusDelivered ForwardStatus = "delivered"
)

// ExecutionRequest bundles everything the engine needs to run one delegated
// spend. The forwarding payload is opaque; the engine never parses it.
type ExecutionRequest struct {
	Principal crypto.Address
	Amount    *big.Int
	Kind      ActionKind
	Grant     *AuthorizationGrant
	Payload   []byte
}

// ExecutionRecord is the immutable audit output of a completed execution.
// ReceivedAmount stays nil when the venue does not report an output amount;
// downstream settlement must reconcile from external observation instead.
type ExecutionRecord struct {
	ID             string
	Principal      crypto.Address
	Kind           ActionKind
	Amount         *big.Int
	ForwardStatus  ForwardStatus
	ReceivedAmount *big.Int
	Day            int64
	Timestamp      int64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// dayIndex buckets a unix timestamp into UTC epoch-aligned days.
func dayIndex(unixSeconds int64) int64 {
	return unixSeconds / 86400
}
