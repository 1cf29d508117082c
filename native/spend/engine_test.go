package spend_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"spendgate/core/events"
	"spendgate/crypto"
	"spendgate/native/spend"
	"spendgate/native/token"
	"spendgate/storage"
)

const testChainID = 7

type harness struct {
	engine    *spend.Engine
	ledger    *token.Ledger
	key       *crypto.PrivateKey
	principal crypto.Address
	executor  crypto.Address
	venue     crypto.Address
	emitted   []events.Event
}

func addr(fill byte) crypto.Address {
	return crypto.MustAddress(bytes.Repeat([]byte{fill}, 20))
}

// newHarness assembles an engine over the in-process token ledger with fixed
// time, a funded principal, and a permissive policy.
func newHarness(t *testing.T, forwarder spend.Forwarder) *harness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	h := &harness{
		ledger:    token.NewLedger(testChainID),
		key:       key,
		principal: key.PubKey().Address(),
		executor:  addr(0xe1),
		venue:     addr(0xf1),
	}
	now := func() time.Time { return time.Unix(1_000_000, 0) }
	h.ledger.SetClock(now)
	if err := h.ledger.Mint(h.principal, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	policies := spend.NewPolicyStore(spend.NewDatabaseStore(storage.NewMemDB()))
	if err := policies.SetPolicy(h.principal, &spend.Policy{
		DailyCap:  big.NewInt(100),
		LikeCap:   big.NewInt(60),
		RepostCap: big.NewInt(40),
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	h.engine = spend.NewEngine(h.ledger, policies, forwarder, h.executor, h.venue,
		spend.WithClock(now),
		spend.WithEmitter(events.EmitterFunc(func(evt events.Event) {
			h.emitted = append(h.emitted, evt)
		})),
	)
	return h
}

func (h *harness) grant(t *testing.T, amount int64, nonce byte) *spend.AuthorizationGrant {
	t.Helper()
	grant := &spend.AuthorizationGrant{
		Domain:    spend.GrantDomainV1,
		ChainID:   testChainID,
		Principal: h.principal,
		Spender:   h.executor,
		Amount:    big.NewInt(amount),
		Nonce:     []byte{nonce},
		Deadline:  1_000_000,
	}
	digest, err := grant.Hash()
	if err != nil {
		t.Fatalf("hash grant: %v", err)
	}
	sig, err := h.key.Sign(digest)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	grant.Signature = sig
	return grant
}

func (h *harness) request(t *testing.T, amount int64, nonce byte) *spend.ExecutionRequest {
	t.Helper()
	return &spend.ExecutionRequest{
		Principal: h.principal,
		Amount:    big.NewInt(amount),
		Kind:      spend.ActionLike,
		Grant:     h.grant(t, amount, nonce),
		Payload:   []byte("venue-call"),
	}
}

func (h *harness) balance(t *testing.T, who crypto.Address) *big.Int {
	t.Helper()
	balance, err := h.ledger.BalanceOf(who)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return balance
}

func okForwarder() spend.Forwarder {
	return spend.ForwarderFunc(func(context.Context, []byte) ([]byte, error) {
		return []byte("ack"), nil
	})
}

func TestExecuteHappyPath(t *testing.T) {
	h := newHarness(t, okForwarder())
	record, err := h.engine.Execute(context.Background(), h.request(t, 50, 0x01))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if record.ID == "" {
		t.Fatal("record must carry an identifier")
	}
	if record.ForwardStatus != spend.ForwardStatusDelivered {
		t.Fatalf("forward status = %q, want delivered", record.ForwardStatus)
	}
	if record.ReceivedAmount != nil {
		t.Fatalf("received amount must stay unknown, got %s", record.ReceivedAmount)
	}
	if record.Day != 1_000_000/86400 {
		t.Fatalf("day = %d, want %d", record.Day, 1_000_000/86400)
	}
	if record.Timestamp != 1_000_000 {
		t.Fatalf("timestamp = %d, want 1000000", record.Timestamp)
	}

	if got := h.balance(t, h.principal); got.Cmp(big.NewInt(950)) != 0 {
		t.Fatalf("principal balance = %s, want 950", got)
	}
	if got := h.balance(t, h.executor); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("executor balance = %s, want 50", got)
	}
	allowance, err := h.ledger.Allowance(h.executor, h.venue)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("venue allowance = %s, want 50", allowance)
	}

	spent, err := h.engine.DailySpent(h.principal, time.Unix(1_000_000, 0))
	if err != nil {
		t.Fatalf("daily spent: %v", err)
	}
	if spent.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("daily spent = %s, want 50", spent)
	}
}

func TestExecuteRollbackRestoresState(t *testing.T) {
	forwarder := spend.ForwarderFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("venue unavailable")
	})
	h := newHarness(t, forwarder)
	_, err := h.engine.Execute(context.Background(), h.request(t, 50, 0x01))
	if !errors.Is(err, spend.ErrForwardFailed) {
		t.Fatalf("expected ErrForwardFailed, got %v", err)
	}

	if got := h.balance(t, h.principal); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("principal balance = %s, want full refund of 1000", got)
	}
	if got := h.balance(t, h.executor); got.Sign() != 0 {
		t.Fatalf("executor balance = %s, want 0", got)
	}
	allowance, err := h.ledger.Allowance(h.executor, h.venue)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Sign() != 0 {
		t.Fatalf("venue allowance = %s, want 0 after rollback", allowance)
	}
	spent, err := h.engine.DailySpent(h.principal, time.Unix(1_000_000, 0))
	if err != nil {
		t.Fatalf("daily spent: %v", err)
	}
	if spent.Sign() != 0 {
		t.Fatalf("daily spent = %s, want 0 after rollback", spent)
	}
	if len(h.emitted) != 0 {
		t.Fatalf("no audit record may be emitted for a rolled back spend, got %d", len(h.emitted))
	}
}

func TestExecuteReplayRejected(t *testing.T) {
	h := newHarness(t, okForwarder())
	req := h.request(t, 10, 0x01)
	if _, err := h.engine.Execute(context.Background(), req); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	_, err := h.engine.Execute(context.Background(), req)
	if !errors.Is(err, spend.ErrInsufficientGrant) {
		t.Fatalf("replayed grant must fail with ErrInsufficientGrant, got %v", err)
	}
}

func TestExecutePaused(t *testing.T) {
	h := newHarness(t, okForwarder())
	h.engine.Pause()
	if !h.engine.Paused() {
		t.Fatal("engine should report paused")
	}
	_, err := h.engine.Execute(context.Background(), h.request(t, 10, 0x01))
	if !errors.Is(err, spend.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	h.engine.Resume()
	if _, err := h.engine.Execute(context.Background(), h.request(t, 10, 0x02)); err != nil {
		t.Fatalf("execute after resume: %v", err)
	}
}

func TestExecuteReentrancyRejected(t *testing.T) {
	var h *harness
	var nested error
	forwarder := spend.ForwarderFunc(func(ctx context.Context, _ []byte) ([]byte, error) {
		_, nested = h.engine.Execute(ctx, h.request(t, 5, 0x02))
		return nil, nested
	})
	h = newHarness(t, forwarder)
	_, err := h.engine.Execute(context.Background(), h.request(t, 10, 0x01))
	if !errors.Is(nested, spend.ErrExecutionInFlight) {
		t.Fatalf("nested execute must fail with ErrExecutionInFlight, got %v", nested)
	}
	if !errors.Is(err, spend.ErrForwardFailed) {
		t.Fatalf("outer execute should roll back the forward failure, got %v", err)
	}
	if got := h.balance(t, h.principal); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("principal balance = %s, want 1000", got)
	}
}

func TestExecuteSamplesClockOnce(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ledger := token.NewLedger(testChainID)
	principal := key.PubKey().Address()
	executor := addr(0xe1)
	if err := ledger.Mint(principal, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	policies := spend.NewPolicyStore(spend.NewDatabaseStore(storage.NewMemDB()))
	if err := policies.SetPolicy(principal, &spend.Policy{
		DailyCap: big.NewInt(100),
		LikeCap:  big.NewInt(60),
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	// Each clock read jumps a full day. If the engine sampled the clock more
	// than once the deadline check and the day bucket would disagree.
	base := int64(1_000_000)
	calls := 0
	step := func() time.Time {
		now := time.Unix(base+int64(calls)*86_400, 0)
		calls++
		return now
	}
	ledger.SetClock(func() time.Time { return time.Unix(base, 0) })
	engine := spend.NewEngine(ledger, policies, okForwarder(), executor, addr(0xf1), spend.WithClock(step))

	grant := &spend.AuthorizationGrant{
		Domain:    spend.GrantDomainV1,
		ChainID:   testChainID,
		Principal: principal,
		Spender:   executor,
		Amount:    big.NewInt(10),
		Nonce:     []byte{0x01},
		Deadline:  base,
	}
	digest, err := grant.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if grant.Signature, err = key.Sign(digest); err != nil {
		t.Fatalf("sign: %v", err)
	}

	record, err := engine.Execute(context.Background(), &spend.ExecutionRequest{
		Principal: principal,
		Amount:    big.NewInt(10),
		Kind:      spend.ActionLike,
		Grant:     grant,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if record.Timestamp != base {
		t.Fatalf("timestamp = %d, want first clock sample %d", record.Timestamp, base)
	}
	if record.Day != base/86_400 {
		t.Fatalf("day = %d, want %d", record.Day, base/86_400)
	}
}

func TestExecuteZeroAmount(t *testing.T) {
	h := newHarness(t, okForwarder())
	record, err := h.engine.Execute(context.Background(), h.request(t, 0, 0x01))
	if err != nil {
		t.Fatalf("zero amount with configured caps must execute: %v", err)
	}
	if record.Amount.Sign() != 0 {
		t.Fatalf("record amount = %s, want 0", record.Amount)
	}
	if got := h.balance(t, h.principal); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("principal balance = %s, want untouched 1000", got)
	}
}

func TestExecuteEmitsAuditEvent(t *testing.T) {
	h := newHarness(t, okForwarder())
	record, err := h.engine.Execute(context.Background(), h.request(t, 25, 0x01))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(h.emitted) != 1 {
		t.Fatalf("emitted %d events, want 1", len(h.emitted))
	}
	executed, ok := h.emitted[0].(events.SpendExecuted)
	if !ok {
		t.Fatalf("unexpected event %T", h.emitted[0])
	}
	if executed.RecordID != record.ID {
		t.Fatalf("event record id %q, want %q", executed.RecordID, record.ID)
	}
	if executed.ReceivedAmount != nil {
		t.Fatal("received amount must stay unknown in the event")
	}
}

func TestRecoverSweepsExecutorBalance(t *testing.T) {
	h := newHarness(t, okForwarder())
	if _, err := h.engine.Execute(context.Background(), h.request(t, 40, 0x01)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	treasury := addr(0xaa)
	swept, err := h.engine.Recover(treasury)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if swept.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("swept = %s, want 40", swept)
	}
	if got := h.balance(t, h.executor); got.Sign() != 0 {
		t.Fatalf("executor balance = %s, want 0", got)
	}
	if got := h.balance(t, treasury); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("treasury balance = %s, want 40", got)
	}
}

func TestRecoverRejectsZeroDestination(t *testing.T) {
	h := newHarness(t, okForwarder())
	if _, err := h.engine.Recover(crypto.Address{}); err == nil {
		t.Fatal("zero destination must be rejected")
	}
}
