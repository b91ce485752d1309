package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eigenlvr/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the durable archive.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveTask(ctx context.Context, t *model.AuctionTask) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auction_tasks (task_id, subject_id, state, quorum_bps, eligible_weight, created_at, response_deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.TaskID, t.SubjectID, string(t.State), t.QuorumBps, t.EligibleWeight,
		t.CreatedAt, t.ResponseDeadline,
	)
	return err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *model.AuctionTask) error {
	var settledAt *time.Time
	if !t.SettledAt.IsZero() {
		settledAt = &t.SettledAt
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE auction_tasks SET state = $2, settled_at = $3 WHERE task_id = $1`,
		t.TaskID, string(t.State), settledAt,
	)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID uint64) (*model.AuctionTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, subject_id, state, quorum_bps, eligible_weight, created_at, response_deadline, settled_at
		 FROM auction_tasks WHERE task_id = $1`, taskID)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]model.AuctionTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, subject_id, state, quorum_bps, eligible_weight, created_at, response_deadline, settled_at
		 FROM auction_tasks ORDER BY task_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.AuctionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) SaveResponse(ctx context.Context, r *model.OperatorResponse) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operator_responses (task_id, operator_id, winner, winning_bid, submitted_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		r.TaskID, r.OperatorID, r.Winner, r.WinningBid.String(), r.SubmittedAt,
	)
	return err
}

func (s *PostgresStore) GetResponsesByTask(ctx context.Context, taskID uint64) ([]model.OperatorResponse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, operator_id, winner, winning_bid::TEXT, submitted_at
		 FROM operator_responses WHERE task_id = $1 ORDER BY submitted_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resps []model.OperatorResponse
	for rows.Next() {
		var r model.OperatorResponse
		var bid string
		if err := rows.Scan(&r.TaskID, &r.OperatorID, &r.Winner, &bid, &r.SubmittedAt); err != nil {
			return nil, err
		}
		if r.WinningBid, err = decimal.NewFromString(bid); err != nil {
			return nil, fmt.Errorf("decode winning_bid for task %d: %w", taskID, err)
		}
		resps = append(resps, r)
	}
	return resps, rows.Err()
}

func (s *PostgresStore) SaveConsensusResult(ctx context.Context, r *model.ConsensusResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consensus_results (task_id, winner, winning_bid, agreeing_weight, participating_weight, eligible_weight, participants, reached_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8)`,
		r.TaskID, r.Winner, r.WinningBid.String(),
		r.AgreeingWeight, r.TotalParticipatingWeight, r.TotalEligibleWeight,
		r.Participants, r.ReachedAt,
	)
	return err
}

func (s *PostgresStore) GetConsensusResult(ctx context.Context, taskID uint64) (*model.ConsensusResult, error) {
	var r model.ConsensusResult
	var bid string

	err := s.pool.QueryRow(ctx,
		`SELECT task_id, winner, winning_bid::TEXT, agreeing_weight, participating_weight, eligible_weight, participants, reached_at
		 FROM consensus_results WHERE task_id = $1`, taskID).
		Scan(&r.TaskID, &r.Winner, &bid,
			&r.AgreeingWeight, &r.TotalParticipatingWeight, &r.TotalEligibleWeight,
			&r.Participants, &r.ReachedAt)
	if err != nil {
		return nil, fmt.Errorf("get consensus result for task %d: %w", taskID, err)
	}

	if r.WinningBid, err = decimal.NewFromString(bid); err != nil {
		return nil, fmt.Errorf("decode winning_bid for task %d: %w", taskID, err)
	}
	return &r, nil
}

func (s *PostgresStore) SaveSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (id, task_id, total_proceeds, lp_share, operator_share, protocol_share, gas_share, settled_at, failed_transfers)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
		 ON CONFLICT (task_id) DO UPDATE SET failed_transfers = EXCLUDED.failed_transfers`,
		rec.ID, rec.TaskID,
		rec.TotalProceeds.String(), rec.LPShare.String(), rec.OperatorShare.String(),
		rec.ProtocolShare.String(), rec.GasShare.String(),
		rec.SettledAt, rec.FailedTransfers,
	)
	return err
}

func (s *PostgresStore) GetSettlement(ctx context.Context, taskID uint64) (*model.SettlementRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_id, total_proceeds::TEXT, lp_share::TEXT, operator_share::TEXT, protocol_share::TEXT, gas_share::TEXT, settled_at, failed_transfers
		 FROM settlements WHERE task_id = $1`, taskID)

	rec, err := scanSettlement(row)
	if err != nil {
		return nil, fmt.Errorf("get settlement for task %d: %w", taskID, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListSettlements(ctx context.Context) ([]model.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, total_proceeds::TEXT, lp_share::TEXT, operator_share::TEXT, protocol_share::TEXT, gas_share::TEXT, settled_at, failed_transfers
		 FROM settlements ORDER BY task_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) SaveChallenge(ctx context.Context, ch *model.Challenge) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO challenges (id, task_id, challenger, raised_at, resolved)
		 VALUES ($1, $2, $3, $4, $5)`,
		ch.ID, ch.TaskID, ch.Challenger, ch.RaisedAt, ch.Resolved,
	)
	return err
}

func (s *PostgresStore) MarkChallengeResolved(ctx context.Context, taskID uint64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE challenges SET resolved = TRUE WHERE task_id = $1`, taskID)
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, taskID uint64) (*model.Challenge, error) {
	var ch model.Challenge
	err := s.pool.QueryRow(ctx,
		`SELECT id, task_id, challenger, raised_at, resolved
		 FROM challenges WHERE task_id = $1`, taskID).
		Scan(&ch.ID, &ch.TaskID, &ch.Challenger, &ch.RaisedAt, &ch.Resolved)
	if err != nil {
		return nil, fmt.Errorf("get challenge for task %d: %w", taskID, err)
	}
	return &ch, nil
}

func (s *PostgresStore) SaveOperator(ctx context.Context, op *model.Operator) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operators (id, stake_weight, status, registered_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET stake_weight = EXCLUDED.stake_weight, status = EXCLUDED.status`,
		op.ID, op.StakeWeight, string(op.Status), op.RegisteredAt,
	)
	return err
}

func (s *PostgresStore) ListOperators(ctx context.Context) ([]model.Operator, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, stake_weight, status, registered_at FROM operators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []model.Operator
	for rows.Next() {
		var op model.Operator
		var status string
		if err := rows.Scan(&op.ID, &op.StakeWeight, &status, &op.RegisteredAt); err != nil {
			return nil, err
		}
		op.Status = model.OperatorStatus(status)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// pgxRow covers both pgx.Row and pgx.Rows for the scan helpers.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanTask(row pgxRow) (*model.AuctionTask, error) {
	var t model.AuctionTask
	var state string
	var settledAt *time.Time

	if err := row.Scan(&t.TaskID, &t.SubjectID, &state, &t.QuorumBps, &t.EligibleWeight,
		&t.CreatedAt, &t.ResponseDeadline, &settledAt); err != nil {
		return nil, err
	}

	t.State = model.TaskState(state)
	if settledAt != nil {
		t.SettledAt = *settledAt
	}
	return &t, nil
}

func scanSettlement(row pgxRow) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	var total, lp, operator, protocol, gas string

	if err := row.Scan(&rec.ID, &rec.TaskID, &total, &lp, &operator, &protocol, &gas,
		&rec.SettledAt, &rec.FailedTransfers); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
		raw  string
	}{
		{"total_proceeds", &rec.TotalProceeds, total},
		{"lp_share", &rec.LPShare, lp},
		{"operator_share", &rec.OperatorShare, operator},
		{"protocol_share", &rec.ProtocolShare, protocol},
		{"gas_share", &rec.GasShare, gas},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s for settlement %s: %w", f.name, rec.ID, err)
		}
		*f.dst = v
	}
	return &rec, nil
}
