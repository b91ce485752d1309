package reward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from int64.
func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// failSink fails transfers to the listed recipients.
type failSink struct {
	failFor map[string]bool
	calls   []string
}

func (s *failSink) Transfer(_ context.Context, recipient string, _ decimal.Decimal) error {
	s.calls = append(s.calls, recipient)
	if s.failFor[recipient] {
		return errors.New("sink unavailable")
	}
	return nil
}

var testRecipients = Recipients{
	OperatorPool: "operator-pool",
	Treasury:     "treasury",
	GasVault:     "gas-vault",
}

// --- Config tests ---

func TestSplitConfig_Validate(t *testing.T) {
	if err := DefaultSplit.Validate(); err != nil {
		t.Fatalf("default split must validate: %v", err)
	}
	if got := DefaultSplit.GasBps(); got != 200 {
		t.Errorf("expected implicit gas share 200 bps, got %d", got)
	}

	bad := []SplitConfig{
		{LPBps: -1, OperatorBps: 0, ProtocolBps: 0},
		{LPBps: 9000, OperatorBps: 2000, ProtocolBps: 0},
	}
	for _, c := range bad {
		if err := c.Validate(); !errors.Is(err, ErrInvalidSplit) {
			t.Errorf("config %+v: expected ErrInvalidSplit, got %v", c, err)
		}
	}
}

func TestNewDistributor_RejectsInvalidSplit(t *testing.T) {
	_, err := NewDistributor(SplitConfig{LPBps: 20000}, nil, testRecipients)
	if !errors.Is(err, ErrInvalidSplit) {
		t.Errorf("expected ErrInvalidSplit, got %v", err)
	}
}

// --- Split arithmetic tests ---

func TestComputeSplit_ExactDivision(t *testing.T) {
	dist, _ := NewDistributor(DefaultSplit, nil, testRecipients)

	lp, op, proto, gas, err := dist.ComputeSplit(d(10000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lp.Equal(d(8500)) || !op.Equal(d(1000)) || !proto.Equal(d(300)) || !gas.Equal(d(200)) {
		t.Errorf("unexpected split: lp=%s op=%s proto=%s gas=%s", lp, op, proto, gas)
	}
}

func TestComputeSplit_RemainderGoesToGas(t *testing.T) {
	dist, _ := NewDistributor(DefaultSplit, nil, testRecipients)

	// 10001 does not divide evenly; flooring pushes the dust into gas.
	total := d(10001)
	lp, op, proto, gas, err := dist.ComputeSplit(total)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lp.Equal(d(8500)) || !op.Equal(d(1000)) || !proto.Equal(d(300)) {
		t.Errorf("unexpected floored shares: lp=%s op=%s proto=%s", lp, op, proto)
	}
	if !gas.Equal(d(201)) {
		t.Errorf("expected gas to absorb the remainder: got %s", gas)
	}
	sum := lp.Add(op).Add(proto).Add(gas)
	if !sum.Equal(total) {
		t.Errorf("shares must sum exactly to total: %s != %s", sum, total)
	}
}

func TestComputeSplit_ConservationAcrossTotals(t *testing.T) {
	dist, _ := NewDistributor(DefaultSplit, nil, testRecipients)

	for _, n := range []int64{0, 1, 3, 7, 99, 10007, 123456789} {
		total := d(n)
		lp, op, proto, gas, err := dist.ComputeSplit(total)
		if err != nil {
			t.Fatalf("total %d: unexpected error: %v", n, err)
		}
		sum := lp.Add(op).Add(proto).Add(gas)
		if !sum.Equal(total) {
			t.Errorf("total %d: shares sum to %s", n, sum)
		}
		if gas.IsNegative() {
			t.Errorf("total %d: negative gas share %s", n, gas)
		}
	}
}

func TestComputeSplit_NegativeProceeds(t *testing.T) {
	dist, _ := NewDistributor(DefaultSplit, nil, testRecipients)
	if _, _, _, _, err := dist.ComputeSplit(d(-1)); !errors.Is(err, ErrNegativeProceeds) {
		t.Errorf("expected ErrNegativeProceeds, got %v", err)
	}
}

// --- Record and distribution tests ---

func TestBuildRecord(t *testing.T) {
	dist, _ := NewDistributor(DefaultSplit, nil, testRecipients)
	now := time.Now().UTC()

	rec, err := dist.BuildRecord(42, d(10000), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected a generated record id")
	}
	if rec.TaskID != 42 {
		t.Errorf("expected task id 42, got %d", rec.TaskID)
	}
	if !rec.SettledAt.Equal(now) {
		t.Errorf("expected settledAt %s, got %s", now, rec.SettledAt)
	}
	if !rec.LPShare.Equal(d(8500)) {
		t.Errorf("expected lp share 8500, got %s", rec.LPShare)
	}
}

func TestDistribute_AllTransfersSucceed(t *testing.T) {
	sink := &failSink{}
	dist, _ := NewDistributor(DefaultSplit, sink, testRecipients)

	rec, _ := dist.BuildRecord(1, d(10000), time.Now().UTC())
	failed := dist.Distribute(context.Background(), rec, "0xpool")
	if len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}
	// LP share goes to the subject, the rest to configured recipients.
	want := []string{"0xpool", "operator-pool", "treasury", "gas-vault"}
	if len(sink.calls) != len(want) {
		t.Fatalf("expected %d transfers, got %d", len(want), len(sink.calls))
	}
	for i, r := range want {
		if sink.calls[i] != r {
			t.Errorf("transfer %d: expected recipient %s, got %s", i, r, sink.calls[i])
		}
	}
}

func TestDistribute_ReportsFailedShares(t *testing.T) {
	sink := &failSink{failFor: map[string]bool{"treasury": true, "gas-vault": true}}
	dist, _ := NewDistributor(DefaultSplit, sink, testRecipients)

	rec, _ := dist.BuildRecord(1, d(10000), time.Now().UTC())
	failed := dist.Distribute(context.Background(), rec, "0xpool")

	if len(failed) != 2 {
		t.Fatalf("expected 2 failed shares, got %v", failed)
	}
	if failed[0] != ShareProtocol || failed[1] != ShareGas {
		t.Errorf("unexpected failed shares: %v", failed)
	}
}

func TestDistribute_SkipsZeroShares(t *testing.T) {
	sink := &failSink{}
	// Everything to the LP; the other shares are zero and never dispatched.
	dist, _ := NewDistributor(SplitConfig{LPBps: 10000}, sink, testRecipients)

	rec, _ := dist.BuildRecord(1, d(500), time.Now().UTC())
	if failed := dist.Distribute(context.Background(), rec, "0xpool"); len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}
	if len(sink.calls) != 1 || sink.calls[0] != "0xpool" {
		t.Errorf("expected only the LP transfer, got %v", sink.calls)
	}
}

func TestDistribute_NilSinkIsLedgerOnly(t *testing.T) {
	dist, _ := NewDistributor(DefaultSplit, nil, testRecipients)
	rec, _ := dist.BuildRecord(1, d(10000), time.Now().UTC())
	if failed := dist.Distribute(context.Background(), rec, "0xpool"); failed != nil {
		t.Errorf("expected nil failures with nil sink, got %v", failed)
	}
}
