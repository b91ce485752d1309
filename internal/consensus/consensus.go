// Package consensus implements the weighted-majority resolver for auction
// tasks.
//
// Responses are grouped by exact (winner, winningBid) match and each group
// is scored by the summed snapshot stake of its operators. Consensus exists
// when the heaviest group clears the task's basis-point quorum against the
// eligible-weight snapshot AND enough distinct operators responded. The
// participation floor keeps a single whale from being "the quorum" alone.
//
// The resolver is stateless and pure: it is evaluated synchronously on the
// accumulated responses under the task's lock and never blocks.
package consensus

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/model"
	"github.com/eigenlvr/auction-engine/internal/registry"
)

var (
	// ErrInvalidFloor is returned when the participation floor is < 1.
	ErrInvalidFloor = errors.New("consensus: participation floor must be at least 1")

	// ErrNegativeBid is returned for bids below zero.
	ErrNegativeBid = errors.New("consensus: winning bid must be non-negative")

	// ErrFractionalBid is returned for non-integral bids. Bids are
	// wei-denominated integers; accepting fractions would let equal values
	// land in different exact-match groups by representation.
	ErrFractionalBid = errors.New("consensus: winning bid must be an integer amount")
)

// bpsDenominator is the basis-point scale: 10000 = 100%.
var bpsDenominator = decimal.NewFromInt(10000)

// ValidateBid checks that a bid is usable as a group key: non-negative and
// integral.
func ValidateBid(bid decimal.Decimal) error {
	if bid.IsNegative() {
		return ErrNegativeBid
	}
	if !bid.Equal(bid.Truncate(0)) {
		return ErrFractionalBid
	}
	return nil
}

// GroupKey returns the canonical grouping key for a response. Bids are
// rescaled to exponent zero first, so "1" and "1.0" share a group.
func GroupKey(winner string, bid decimal.Decimal) string {
	return winner + "|" + bid.Truncate(0).String()
}

// Outcome is a successful resolution. It carries everything needed to build
// the task's immutable ConsensusResult.
type Outcome struct {
	Winner                   string
	WinningBid               decimal.Decimal
	AgreeingWeight           uint64
	TotalParticipatingWeight uint64
	TotalEligibleWeight      uint64
	Participants             int
}

// Resolver evaluates collected responses against a task's quorum.
type Resolver struct {
	minParticipants int
}

// NewResolver creates a resolver with the given participation floor: the
// minimum number of distinct responding operators for a valid consensus.
func NewResolver(minParticipants int) (*Resolver, error) {
	if minParticipants < 1 {
		return nil, ErrInvalidFloor
	}
	return &Resolver{minParticipants: minParticipants}, nil
}

// MinParticipants returns the configured participation floor.
func (r *Resolver) MinParticipants() int {
	return r.minParticipants
}

type group struct {
	winner     string
	winningBid decimal.Decimal
	weight     uint64
	// reachedSeq is the arrival index of the response that brought the
	// group to its current weight. Ties between equally heavy groups go to
	// the one that got there first, so a late duplicate vote cannot flip
	// an already-decided outcome.
	reachedSeq int
}

// Resolve evaluates responses (in arrival order) against the task's weight
// snapshot and quorum threshold. It returns the outcome and true when a
// quorum-backed winner exists, or nil and false otherwise.
//
// Responses from operators with zero snapshot weight still count toward the
// participation floor but contribute nothing to any group's weight.
func (r *Resolver) Resolve(
	responses []model.OperatorResponse,
	snap registry.Snapshot,
	quorumBps int64,
) (*Outcome, bool) {
	if len(responses) < r.minParticipants {
		return nil, false
	}

	groups := make(map[string]*group)
	var participatingWeight uint64

	for seq, resp := range responses {
		w := snap.WeightOf(resp.OperatorID)
		participatingWeight += w

		key := GroupKey(resp.Winner, resp.WinningBid)
		g, ok := groups[key]
		if !ok {
			g = &group{
				winner:     resp.Winner,
				winningBid: resp.WinningBid.Truncate(0),
				reachedSeq: seq,
			}
			groups[key] = g
		}
		if w > 0 {
			g.weight += w
			g.reachedSeq = seq
		}
	}

	var best *group
	for _, g := range groups {
		if best == nil ||
			g.weight > best.weight ||
			(g.weight == best.weight && g.reachedSeq < best.reachedSeq) {
			best = g
		}
	}
	if best == nil {
		return nil, false
	}

	// agreeingWeight / eligibleTotal >= quorumBps / 10000, in exact
	// decimal arithmetic to avoid uint64 overflow on the cross-product.
	agreeing := decimal.NewFromUint64(best.weight).Mul(bpsDenominator)
	required := decimal.NewFromUint64(snap.Total).Mul(decimal.NewFromInt(quorumBps))
	if snap.Total == 0 || agreeing.LessThan(required) {
		return nil, false
	}

	return &Outcome{
		Winner:                   best.winner,
		WinningBid:               best.winningBid,
		AgreeingWeight:           best.weight,
		TotalParticipatingWeight: participatingWeight,
		TotalEligibleWeight:      snap.Total,
		Participants:             len(responses),
	}, true
}
