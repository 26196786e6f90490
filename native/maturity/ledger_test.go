package maturity

import (
	"errors"
	"testing"

	"syforge/core/events"
	"syforge/state"
	"syforge/storage"
)

const testNow int64 = 1_700_000_000

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestLedger(t *testing.T) (*Ledger, *capturingEmitter) {
	t.Helper()
	ledger := NewLedger(state.NewKV(storage.NewMemDB()))
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	return ledger, emitter
}

func TestCreateMaturityAllocatesTriple(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	underlying := [20]byte{0x01}
	maturityTs := testNow + 180*24*3600

	entry, err := ledger.CreateMaturity(underlying, maturityTs, 500, 3, testNow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.SYToken == entry.PTToken || entry.PTToken == entry.YTToken || entry.SYToken == ([32]byte{}) {
		t.Fatalf("token ids must be distinct and non-zero: %+v", entry)
	}
	if entry.CreatedAt != testNow {
		t.Fatalf("unexpected createdAt: %d", entry.CreatedAt)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != events.TypeMaturityCreated {
		t.Fatalf("unexpected event type: %s", emitter.events[0].EventType())
	}
}

func TestCreateMaturityHorizonBounds(t *testing.T) {
	ledger, _ := newTestLedger(t)
	underlying := [20]byte{0x02}

	if _, err := ledger.CreateMaturity(underlying, testNow+MinHorizon-1, 500, 3, testNow); !errors.Is(err, ErrMaturityTooSoon) {
		t.Fatalf("expected too soon, got %v", err)
	}
	if _, err := ledger.CreateMaturity(underlying, testNow+MaxHorizon+1, 500, 3, testNow); !errors.Is(err, ErrMaturityTooFar) {
		t.Fatalf("expected too far, got %v", err)
	}
	if _, err := ledger.CreateMaturity(underlying, testNow+MinHorizon, 500, 3, testNow); err != nil {
		t.Fatalf("minimum horizon must be accepted: %v", err)
	}
}

func TestCreateMaturityRateAndBlockTimeBounds(t *testing.T) {
	ledger, _ := newTestLedger(t)
	underlying := [20]byte{0x03}
	maturityTs := testNow + 30*24*3600

	if _, err := ledger.CreateMaturity(underlying, maturityTs, 0, 3, testNow); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if _, err := ledger.CreateMaturity(underlying, maturityTs, 100_001, 3, testNow); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if _, err := ledger.CreateMaturity(underlying, maturityTs, 500, 0, testNow); !errors.Is(err, ErrInvalidBlockTime) {
		t.Fatalf("expected invalid block time, got %v", err)
	}
}

func TestCreateMaturityIdempotencyKey(t *testing.T) {
	ledger, _ := newTestLedger(t)
	underlying := [20]byte{0x04}
	maturityTs := testNow + 90*24*3600

	if _, err := ledger.CreateMaturity(underlying, maturityTs, 500, 3, testNow); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ledger.CreateMaturity(underlying, maturityTs, 900, 3, testNow); !errors.Is(err, ErrMaturityAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestGetByMaturityAndToken(t *testing.T) {
	ledger, _ := newTestLedger(t)
	underlying := [20]byte{0x05}
	maturityTs := testNow + 90*24*3600

	created, err := ledger.CreateMaturity(underlying, maturityTs, 500, 3, testNow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	entry, err := ledger.GetByMaturity(underlying, maturityTs)
	if err != nil {
		t.Fatalf("get by maturity: %v", err)
	}
	if entry.SYToken != created.SYToken {
		t.Fatalf("entry mismatch")
	}

	for _, tc := range []struct {
		token [32]byte
		kind  TokenKind
	}{
		{created.SYToken, KindSY},
		{created.PTToken, KindPT},
		{created.YTToken, KindYT},
	} {
		got, kind, err := ledger.GetByToken(tc.token)
		if err != nil {
			t.Fatalf("get by token: %v", err)
		}
		if kind != tc.kind {
			t.Fatalf("unexpected kind: got %s want %s", kind, tc.kind)
		}
		if got.Maturity != maturityTs {
			t.Fatalf("unexpected maturity: %d", got.Maturity)
		}
	}

	if _, _, err := ledger.GetByToken([32]byte{0xff}); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected token not found, got %v", err)
	}
	if _, err := ledger.GetByMaturity(underlying, maturityTs+1); !errors.Is(err, ErrMaturityNotFound) {
		t.Fatalf("expected entry not found, got %v", err)
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	ledger, _ := newTestLedger(t)
	underlying := [20]byte{0x06}

	later := testNow + 180*24*3600
	sooner := testNow + 30*24*3600
	if _, err := ledger.CreateMaturity(underlying, later, 500, 3, testNow); err != nil {
		t.Fatalf("create later: %v", err)
	}
	if _, err := ledger.CreateMaturity(underlying, sooner, 300, 3, testNow); err != nil {
		t.Fatalf("create sooner: %v", err)
	}

	entries, err := ledger.List(underlying)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Maturity != later || entries[1].Maturity != sooner {
		t.Fatalf("insertion order not preserved: %d, %d", entries[0].Maturity, entries[1].Maturity)
	}
}

func TestHasMaturedBoundary(t *testing.T) {
	entry := &Entry{Maturity: testNow}
	if entry.HasMatured(testNow - 1) {
		t.Fatalf("one second before maturity must not be matured")
	}
	if !entry.HasMatured(testNow) {
		t.Fatalf("the maturity instant itself counts as matured")
	}
	if !entry.HasMatured(testNow + 1) {
		t.Fatalf("after maturity must be matured")
	}
}

func TestDeterministicTokenIDs(t *testing.T) {
	underlying := [20]byte{0x07}
	a := deriveTokenID(underlying, testNow, KindSY)
	b := deriveTokenID(underlying, testNow, KindSY)
	if a != b {
		t.Fatalf("token derivation must be deterministic")
	}
	if a == deriveTokenID(underlying, testNow, KindPT) {
		t.Fatalf("kinds must derive distinct ids")
	}
	if a == deriveTokenID(underlying, testNow+1, KindSY) {
		t.Fatalf("maturities must derive distinct ids")
	}
}

func TestEntryAPYAndSymbols(t *testing.T) {
	entry := &Entry{
		Maturity:     1_790_000_000,
		YieldRateBps: 1,
		BlockTime:    3,
	}
	if got := entry.PeriodsPerYear(); got != 10_519_200 {
		t.Fatalf("unexpected periods per year: %d", got)
	}
	apy, err := entry.APY()
	if err != nil {
		t.Fatalf("apy: %v", err)
	}
	if apy.Sign() <= 0 {
		t.Fatalf("expected positive apy")
	}
	symbol := entry.SymbolFor(KindPT, "STCORE")
	if symbol != "PT-STCORE-2026-09-21" {
		t.Fatalf("unexpected symbol: %s", symbol)
	}
}
