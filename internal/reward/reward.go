// Package reward computes the settlement split for a concluded auction and
// hands the individual shares to an external payment sink.
//
// The split is configuration, not law: LP, operator, and protocol shares
// are expressed in basis points and the gas-compensation share is derived
// as the remainder. Because the gas share is total minus the floored other
// three, the four shares always sum exactly to the total proceeds — no
// rounding leakage.
//
// This package is the authoritative ledger of how much is owed; it never
// rolls a settlement back. A failed transfer is recorded on the settlement
// record for the payment collaborator to retry.
package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/model"
)

var (
	// ErrInvalidSplit is returned when the configured basis points are
	// negative or leave no room for the gas share.
	ErrInvalidSplit = errors.New("reward: share basis points must be non-negative and sum to at most 10000")

	// ErrNegativeProceeds is returned when asked to split a negative total.
	ErrNegativeProceeds = errors.New("reward: total proceeds must be non-negative")
)

var bpsDenominator = decimal.NewFromInt(10000)

// Share names used in transfer-failure records and logs.
const (
	ShareLP       = "lp"
	ShareOperator = "operator"
	ShareProtocol = "protocol"
	ShareGas      = "gas"
)

// PaymentSink moves funds for one share. It is an external collaborator: a
// transfer failure is reported but never unwinds the settlement record.
type PaymentSink interface {
	Transfer(ctx context.Context, recipient string, amount decimal.Decimal) error
}

// SplitConfig defines the proceeds split in basis points. The gas share is
// implicit: 10000 minus the three configured shares.
type SplitConfig struct {
	LPBps       int64
	OperatorBps int64
	ProtocolBps int64
}

// DefaultSplit is the 85/10/3 split (plus 2% implicit gas share) used by
// the reference deployment.
var DefaultSplit = SplitConfig{LPBps: 8500, OperatorBps: 1000, ProtocolBps: 300}

// Validate checks the configured shares leave a non-negative gas remainder.
func (c SplitConfig) Validate() error {
	if c.LPBps < 0 || c.OperatorBps < 0 || c.ProtocolBps < 0 ||
		c.LPBps+c.OperatorBps+c.ProtocolBps > 10000 {
		return fmt.Errorf("%w: %d/%d/%d", ErrInvalidSplit, c.LPBps, c.OperatorBps, c.ProtocolBps)
	}
	return nil
}

// GasBps returns the implicit gas-compensation share in basis points.
func (c SplitConfig) GasBps() int64 {
	return 10000 - c.LPBps - c.OperatorBps - c.ProtocolBps
}

// Recipients are the configured payout accounts for the non-LP shares. The
// LP share is paid to the task's subject (the pool being compensated).
type Recipients struct {
	OperatorPool string
	Treasury     string
	GasVault     string
}

// Distributor builds settlement records and pushes the shares to the sink.
type Distributor struct {
	split      SplitConfig
	sink       PaymentSink
	recipients Recipients
}

// NewDistributor creates a distributor for the given split. Pass a nil sink
// to skip payment execution (ledger-only mode, used in tests).
func NewDistributor(split SplitConfig, sink PaymentSink, recipients Recipients) (*Distributor, error) {
	if err := split.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{split: split, sink: sink, recipients: recipients}, nil
}

// ComputeSplit floors the three configured shares out of totalProceeds and
// assigns the remainder to gas. Invariant: lp+operator+protocol+gas ==
// totalProceeds exactly.
func (d *Distributor) ComputeSplit(totalProceeds decimal.Decimal) (lp, operator, protocol, gas decimal.Decimal, err error) {
	if totalProceeds.IsNegative() {
		err = fmt.Errorf("%w: %s", ErrNegativeProceeds, totalProceeds)
		return
	}

	lp = floorShare(totalProceeds, d.split.LPBps)
	operator = floorShare(totalProceeds, d.split.OperatorBps)
	protocol = floorShare(totalProceeds, d.split.ProtocolBps)
	gas = totalProceeds.Sub(lp).Sub(operator).Sub(protocol)
	return
}

// BuildRecord computes the split and assembles the immutable settlement
// record for a task.
func (d *Distributor) BuildRecord(taskID uint64, totalProceeds decimal.Decimal, settledAt time.Time) (*model.SettlementRecord, error) {
	lp, operator, protocol, gas, err := d.ComputeSplit(totalProceeds)
	if err != nil {
		return nil, err
	}

	return &model.SettlementRecord{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		TotalProceeds: totalProceeds,
		LPShare:       lp,
		OperatorShare: operator,
		ProtocolShare: protocol,
		GasShare:      gas,
		SettledAt:     settledAt,
	}, nil
}

// Distribute pushes each share of a record to the payment sink, the LP
// share going to subjectID. It returns the names of shares whose transfer
// failed; these are attached to the record as retryable, nothing more.
func (d *Distributor) Distribute(ctx context.Context, rec *model.SettlementRecord, subjectID string) []string {
	if d.sink == nil {
		return nil
	}

	var failed []string
	transfers := []struct {
		share     string
		recipient string
		amount    decimal.Decimal
	}{
		{ShareLP, subjectID, rec.LPShare},
		{ShareOperator, d.recipients.OperatorPool, rec.OperatorShare},
		{ShareProtocol, d.recipients.Treasury, rec.ProtocolShare},
		{ShareGas, d.recipients.GasVault, rec.GasShare},
	}

	for _, t := range transfers {
		if t.amount.IsZero() {
			continue
		}
		if err := d.sink.Transfer(ctx, t.recipient, t.amount); err != nil {
			failed = append(failed, t.share)
		}
	}
	return failed
}

// floorShare computes floor(total * bps / 10000).
func floorShare(total decimal.Decimal, bps int64) decimal.Decimal {
	return total.Mul(decimal.NewFromInt(bps)).Div(bpsDenominator).Floor()
}
