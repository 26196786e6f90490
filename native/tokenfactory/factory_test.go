package tokenfactory

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"syforge/core/events"
	"syforge/native/maturity"
	"syforge/native/registry"
	"syforge/native/yield"
	"syforge/state"
	"syforge/storage"
)

const testNow int64 = 1_700_000_000

var (
	testAuthority  = [20]byte{0xaa}
	testUnderlying = [20]byte{0x01}
	testAccount    = [20]byte{0x10}
)

const testMaturityTs = testNow + 180*24*3600

type transferCall struct {
	account    [20]byte
	underlying [20]byte
	amount     *big.Int
}

type mockTransferLedger struct {
	failIn  bool
	failOut bool
	ins     []transferCall
	outs    []transferCall

	// When set, TransferOut closes outEntered and then waits for outGate,
	// holding the factory mid-mutation so tests can probe lock behaviour.
	outEntered chan struct{}
	outGate    chan struct{}
}

func (m *mockTransferLedger) TransferIn(account, underlying [20]byte, amount *big.Int) error {
	if m.failIn {
		return errors.New("ledger offline")
	}
	m.ins = append(m.ins, transferCall{account, underlying, new(big.Int).Set(amount)})
	return nil
}

func (m *mockTransferLedger) TransferOut(account, underlying [20]byte, amount *big.Int) error {
	if m.outEntered != nil {
		close(m.outEntered)
		m.outEntered = nil
	}
	if m.outGate != nil {
		<-m.outGate
	}
	if m.failOut {
		return errors.New("ledger offline")
	}
	m.outs = append(m.outs, transferCall{account, underlying, new(big.Int).Set(amount)})
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesSeen() []string {
	seen := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		seen = append(seen, evt.EventType())
	}
	return seen
}

func newTestFactory(t *testing.T) (*Factory, *mockTransferLedger, *capturingEmitter) {
	t.Helper()
	kv := state.NewKV(storage.NewMemDB())
	transfers := &mockTransferLedger{}
	factory := NewFactory(testAuthority, registry.NewRegistry(kv), maturity.NewLedger(kv), yield.NewEngine(kv), transfers)
	emitter := &capturingEmitter{}
	factory.SetEmitter(emitter)
	return factory, transfers, emitter
}

func mustCreateMaturity(t *testing.T, factory *Factory, rateBps uint32) *maturity.Entry {
	t.Helper()
	entry, err := factory.CreateMaturity(testAuthority, testUnderlying, "Staked CORE", "stCORE", 18, testMaturityTs, rateBps, 3, testNow)
	if err != nil {
		t.Fatalf("create maturity: %v", err)
	}
	return entry
}

func mustWrap(t *testing.T, factory *Factory, amount int64) {
	t.Helper()
	if err := factory.Wrap(testAccount, testUnderlying, testMaturityTs, big.NewInt(amount), testNow); err != nil {
		t.Fatalf("wrap: %v", err)
	}
}

func balance(t *testing.T, factory *Factory, token [32]byte) *big.Int {
	t.Helper()
	bal, err := factory.BalanceOf(token, testAccount)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestCreateMaturityRequiresAuthority(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	intruder := [20]byte{0xbb}
	if _, err := factory.CreateMaturity(intruder, testUnderlying, "Staked CORE", "stCORE", 18, testMaturityTs, 500, 3, testNow); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCreateMaturityRegistersUnderlying(t *testing.T) {
	factory, _, emitter := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)

	asset, err := factory.Underlying(testUnderlying)
	if err != nil {
		t.Fatalf("underlying: %v", err)
	}
	if asset.Symbol != "STCORE" || asset.Decimals != 18 {
		t.Fatalf("unexpected asset metadata: %+v", asset)
	}
	if entry.SYToken == entry.PTToken || entry.PTToken == entry.YTToken {
		t.Fatalf("token ids must be distinct")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeMaturityCreated {
		t.Fatalf("expected a maturity created event, got %v", emitter.typesSeen())
	}
}

func TestCreateMaturityMetadataConflictLeavesNoEntry(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	mustCreateMaturity(t, factory, 500)

	secondTs := int64(testMaturityTs + 30*24*3600)
	_, err := factory.CreateMaturity(testAuthority, testUnderlying, "Staked CORE", "stBTC", 18, secondTs, 500, 3, testNow)
	if !errors.Is(err, registry.ErrMetadataConflict) {
		t.Fatalf("expected metadata conflict, got %v", err)
	}
	// The rejected call must not have created the second maturity.
	entries, err := factory.Maturities(testUnderlying)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("conflicting call left a maturity behind: %d entries", len(entries))
	}
}

func TestWrapMintsSYAfterTransferIn(t *testing.T) {
	factory, transfers, emitter := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 1000)

	if got := balance(t, factory, entry.SYToken); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected sy balance: %s", got)
	}
	if len(transfers.ins) != 1 || transfers.ins[0].amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected transfer-in calls: %+v", transfers.ins)
	}
	want := []string{events.TypeMaturityCreated, events.TypeTokenSupply, events.TypeWrapped}
	got := emitter.typesSeen()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWrapRejectsUnknownUnderlying(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	mustCreateMaturity(t, factory, 500)

	other := [20]byte{0x02}
	if err := factory.Wrap(testAccount, other, testMaturityTs, big.NewInt(10), testNow); !errors.Is(err, ErrInvalidUnderlying) {
		t.Fatalf("expected invalid underlying, got %v", err)
	}
}

func TestWrapRejectsMaturedSeries(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)

	for _, now := range []int64{entry.Maturity, entry.Maturity + 3600} {
		if err := factory.Wrap(testAccount, testUnderlying, testMaturityTs, big.NewInt(100), now); !errors.Is(err, ErrSYTokenMatured) {
			t.Fatalf("expected matured rejection at %d, got %v", now, err)
		}
	}
	if len(transfers.ins) != 0 {
		t.Fatalf("rejected wrap moved funds: %+v", transfers.ins)
	}
	if got := balance(t, factory, entry.SYToken); got.Sign() != 0 {
		t.Fatalf("rejected wrap minted sy: %s", got)
	}
}

func TestWrapFailedTransferLeavesNoState(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)

	transfers.failIn = true
	err := factory.Wrap(testAccount, testUnderlying, testMaturityTs, big.NewInt(1000), testNow)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if got := balance(t, factory, entry.SYToken); got.Sign() != 0 {
		t.Fatalf("failed wrap minted sy: %s", got)
	}
	supply, err := factory.TotalSupply(entry.SYToken)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Sign() != 0 {
		t.Fatalf("failed wrap moved supply: %s", supply)
	}
}

func TestSplitConservesSupply(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 1000)

	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(400), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}
	sy := balance(t, factory, entry.SYToken)
	pt := balance(t, factory, entry.PTToken)
	yt := balance(t, factory, entry.YTToken)
	if sy.Cmp(big.NewInt(600)) != 0 || pt.Cmp(big.NewInt(400)) != 0 || yt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected balances after split: sy=%s pt=%s yt=%s", sy, pt, yt)
	}
	// SY burned equals PT minted equals YT minted, so sy+pt stays constant.
	if total := new(big.Int).Add(sy, pt); total.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("split broke conservation: %s", total)
	}
}

func TestSplitRejectsInsufficientAndMatured(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 100)

	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(101), testNow); !errors.Is(err, ErrInsufficientSY) {
		t.Fatalf("expected insufficient sy, got %v", err)
	}
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(50), entry.Maturity); !errors.Is(err, ErrSYTokenMatured) {
		t.Fatalf("expected matured sy rejection, got %v", err)
	}
	if err := factory.Split(testAccount, entry.PTToken, big.NewInt(50), testNow); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("expected wrong token kind, got %v", err)
	}
}

func TestMergeInvertsSplit(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 1000)

	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(1000), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}
	if err := factory.Merge(testAccount, entry.SYToken, big.NewInt(1000), testNow); err != nil {
		t.Fatalf("merge: %v", err)
	}
	sy := balance(t, factory, entry.SYToken)
	pt := balance(t, factory, entry.PTToken)
	yt := balance(t, factory, entry.YTToken)
	if sy.Cmp(big.NewInt(1000)) != 0 || pt.Sign() != 0 || yt.Sign() != 0 {
		t.Fatalf("round trip not identity: sy=%s pt=%s yt=%s", sy, pt, yt)
	}
}

func TestMergeRequiresBothLegs(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 100)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(100), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	if err := factory.Merge(testAccount, entry.SYToken, big.NewInt(101), testNow); !errors.Is(err, ErrInsufficientPT) {
		t.Fatalf("expected insufficient pt, got %v", err)
	}
}

func TestMergeAllowedAfterMaturity(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 100)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(100), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	if err := factory.Merge(testAccount, entry.SYToken, big.NewInt(100), entry.Maturity+3600); err != nil {
		t.Fatalf("merge after maturity: %v", err)
	}
	if got := balance(t, factory, entry.SYToken); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected sy after late merge: %s", got)
	}
}

func TestWrapAndSplitComposesAtomically(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)

	if err := factory.WrapAndSplit(testAccount, testUnderlying, testMaturityTs, big.NewInt(500), testNow); err != nil {
		t.Fatalf("wrap and split: %v", err)
	}
	sy := balance(t, factory, entry.SYToken)
	pt := balance(t, factory, entry.PTToken)
	yt := balance(t, factory, entry.YTToken)
	if sy.Sign() != 0 || pt.Cmp(big.NewInt(500)) != 0 || yt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected balances: sy=%s pt=%s yt=%s", sy, pt, yt)
	}
	if len(transfers.ins) != 1 {
		t.Fatalf("expected one transfer-in, got %d", len(transfers.ins))
	}

	if err := factory.WrapAndSplit(testAccount, testUnderlying, testMaturityTs, big.NewInt(1), entry.Maturity); !errors.Is(err, ErrSYTokenMatured) {
		t.Fatalf("expected matured rejection, got %v", err)
	}
}

func TestRedeemPTGatedOnMaturity(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 1000)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(1000), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	if _, err := factory.RedeemPT(testAccount, entry.PTToken, entry.Maturity-1); !errors.Is(err, ErrPTNotMatured) {
		t.Fatalf("expected not matured a second before the boundary, got %v", err)
	}

	redeemed, err := factory.RedeemPT(testAccount, entry.PTToken, entry.Maturity)
	if err != nil {
		t.Fatalf("redeem at maturity: %v", err)
	}
	if redeemed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected redeemed amount: %s", redeemed)
	}
	if got := balance(t, factory, entry.PTToken); got.Sign() != 0 {
		t.Fatalf("redeem left pt behind: %s", got)
	}
	if len(transfers.outs) != 1 || transfers.outs[0].amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected transfer-out calls: %+v", transfers.outs)
	}

	if _, err := factory.RedeemPT(testAccount, entry.PTToken, entry.Maturity); !errors.Is(err, ErrNoPTToRedeem) {
		t.Fatalf("expected nothing to redeem, got %v", err)
	}
}

func TestRedeemPTFailedTransferLeavesBalance(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 100)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(100), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	transfers.failOut = true
	if _, err := factory.RedeemPT(testAccount, entry.PTToken, entry.Maturity); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if got := balance(t, factory, entry.PTToken); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed redeem burned pt: %s", got)
	}
}

func TestClaimYTPaysAccruedYield(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	// 100000 bps is a 100% per-block rate: one block doubles the position.
	entry := mustCreateMaturity(t, factory, 100_000)
	mustWrap(t, factory, 100)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(100), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	claimTime := testNow + entry.BlockTime
	claimable, err := factory.ClaimableYield(testAccount, entry.YTToken, claimTime)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	if claimable.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected claimable: %s", claimable)
	}

	claimed, err := factory.ClaimYT(testAccount, entry.YTToken, claimTime)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected claimed amount: %s", claimed)
	}
	if len(transfers.outs) != 1 || transfers.outs[0].underlying != testUnderlying {
		t.Fatalf("unexpected transfer-out calls: %+v", transfers.outs)
	}

	if _, err := factory.ClaimYT(testAccount, entry.YTToken, claimTime); !errors.Is(err, yield.ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}

	audit, err := factory.TotalYieldAccrued(entry.YTToken)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if audit.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected audit total: %s", audit)
	}
}

func TestClaimYTRejectedAtMaturity(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 100)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(100), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	for _, now := range []int64{entry.Maturity, entry.Maturity + 3600} {
		if _, err := factory.ClaimYT(testAccount, entry.YTToken, now); !errors.Is(err, yield.ErrYTExpired) {
			t.Fatalf("expected expired at %d, got %v", now, err)
		}
	}
}

func TestClaimYTFailedTransferLeavesYieldClaimable(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 100_000)
	mustWrap(t, factory, 100)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(100), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	claimTime := testNow + entry.BlockTime
	transfers.failOut = true
	if _, err := factory.ClaimYT(testAccount, entry.YTToken, claimTime); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	transfers.failOut = false
	claimed, err := factory.ClaimYT(testAccount, entry.YTToken, claimTime)
	if err != nil {
		t.Fatalf("claim after recovery: %v", err)
	}
	if claimed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed transfer lost accrued yield: %s", claimed)
	}
}

func TestQueriesWaitForInFlightMutation(t *testing.T) {
	factory, transfers, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)
	mustWrap(t, factory, 1000)
	if err := factory.Split(testAccount, entry.SYToken, big.NewInt(1000), testNow); err != nil {
		t.Fatalf("split: %v", err)
	}

	entered := make(chan struct{})
	gate := make(chan struct{})
	transfers.outEntered = entered
	transfers.outGate = gate

	redeemDone := make(chan error, 1)
	go func() {
		_, err := factory.RedeemPT(testAccount, entry.PTToken, entry.Maturity)
		redeemDone <- err
	}()
	<-entered

	// The redemption holds the factory lock with its PT burn still pending.
	// A concurrent balance read must wait for the mutation to finish
	// instead of observing the intermediate state.
	readDone := make(chan *big.Int, 1)
	go func() {
		balance, err := factory.BalanceOf(entry.PTToken, testAccount)
		if err != nil {
			t.Errorf("balance: %v", err)
		}
		readDone <- balance
	}()

	select {
	case <-readDone:
		t.Fatalf("query returned while a mutation held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	if err := <-redeemDone; err != nil {
		t.Fatalf("redeem: %v", err)
	}
	balance := <-readDone
	if balance == nil || balance.Sign() != 0 {
		t.Fatalf("query observed a half-applied redemption: %s", balance)
	}
}

func TestTokenInfoResolvesSymbols(t *testing.T) {
	factory, _, _ := newTestFactory(t)
	entry := mustCreateMaturity(t, factory, 500)

	info, err := factory.TokenInfoOf(entry.PTToken)
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	if info.Kind != maturity.KindPT {
		t.Fatalf("unexpected kind: %s", info.Kind)
	}
	want := entry.SymbolFor(maturity.KindPT, "STCORE")
	if info.Symbol != want {
		t.Fatalf("unexpected symbol: got %s, want %s", info.Symbol, want)
	}
}
