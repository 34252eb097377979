package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"goatclash/internal/game"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the postgres projection of the ledger. Writes are keyed by event
// sequence so a replayed event never overwrites newer data.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const upsertBetQuery = `
INSERT INTO bets (commitment, bettor, status, amount, possible_win, modulo, commit_block,
                  won, payout, view, last_seq, placed_at, resolved_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
ON CONFLICT (commitment) DO UPDATE SET
    status = EXCLUDED.status,
    won = EXCLUDED.won,
    payout = EXCLUDED.payout,
    view = EXCLUDED.view,
    last_seq = EXCLUDED.last_seq,
    resolved_at = EXCLUDED.resolved_at,
    updated_at = NOW()
WHERE bets.last_seq < EXCLUDED.last_seq`

func upsertBet(ctx context.Context, ex execer, seq uint64, v game.BetView) error {
	view, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal bet")
	}
	var payout sql.NullString
	if v.Payout != "" {
		payout = sql.NullString{String: v.Payout, Valid: true}
	}
	var resolvedAt sql.NullTime
	if v.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *v.ResolvedAt, Valid: true}
	}

	_, err = ex.ExecContext(ctx, upsertBetQuery,
		v.Commitment.Hex(),
		v.Bettor.Hex(),
		string(v.Status),
		v.Amount,
		v.PossibleWin,
		int64(v.Modulo),
		int64(v.CommitBlock),
		v.Won,
		payout,
		string(view),
		int64(seq),
		v.PlacedAt,
		resolvedAt,
	)
	return errors.Wrapf(err, "upsert bet %s", v.Commitment.Hex())
}

const upsertStateQuery = `
INSERT INTO engine_state (id, seq, token, locked, jackpot, state, updated_at)
VALUES (1, $1, $2, $3, $4, $5, NOW())
ON CONFLICT (id) DO UPDATE SET
    seq = EXCLUDED.seq,
    token = EXCLUDED.token,
    locked = EXCLUDED.locked,
    jackpot = EXCLUDED.jackpot,
    state = EXCLUDED.state,
    updated_at = NOW()
WHERE engine_state.seq < EXCLUDED.seq`

func upsertState(ctx context.Context, ex execer, st game.StateView) error {
	state, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	_, err = ex.ExecContext(ctx, upsertStateQuery,
		int64(st.Seq),
		st.Token.Hex(),
		st.Locked,
		st.Jackpot,
		string(state),
	)
	return errors.Wrap(err, "upsert engine state")
}

// Apply records the bet and state carried by one event in a single transaction.
func (s *Store) Apply(ctx context.Context, ev game.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if ev.Bet != nil {
		if err := upsertBet(ctx, tx, ev.Seq, *ev.Bet); err != nil {
			return err
		}
	}
	if err := upsertState(ctx, tx, ev.State); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// BetFilter narrows ListBets. Zero values match everything.
type BetFilter struct {
	Bettor common.Address
	Status game.Status
	Limit  int
}

func (s *Store) ListBets(ctx context.Context, f BetFilter) ([]game.BetView, error) {
	query := `SELECT view FROM bets WHERE ($1 = '' OR bettor = $1) AND ($2 = '' OR status = $2)
ORDER BY commit_block DESC, commitment LIMIT $3`

	bettor := ""
	if f.Bettor != (common.Address{}) {
		bettor = f.Bettor.Hex()
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, query, bettor, string(f.Status), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list bets")
	}
	defer rows.Close()
	return scanViews(rows)
}

func (s *Store) GetBet(ctx context.Context, commitment common.Hash) (*game.BetView, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT view FROM bets WHERE commitment = $1`, commitment.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get bet %s", commitment.Hex())
	}
	var v game.BetView
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decode bet")
	}
	return &v, nil
}

// LoadSnapshot reads back what the engine needs to resume. ok is false when
// nothing has been projected yet.
func (s *Store) LoadSnapshot(ctx context.Context) (snap game.Snapshot, ok bool, err error) {
	var raw []byte
	err = s.db.QueryRowContext(ctx, `SELECT state FROM engine_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, errors.Wrap(err, "load engine state")
	}
	if err = json.Unmarshal(raw, &snap.State); err != nil {
		return snap, false, errors.Wrap(err, "decode engine state")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT view FROM bets WHERE status = $1 ORDER BY commit_block, commitment`, string(game.StatusPending))
	if err != nil {
		return snap, false, errors.Wrap(err, "load pending bets")
	}
	snap.Pending, err = scanViews(rows)
	rows.Close()
	if err != nil {
		return snap, false, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT commitment FROM bets WHERE status <> $1`, string(game.StatusPending))
	if err != nil {
		return snap, false, errors.Wrap(err, "load spent commitments")
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err = rows.Scan(&c); err != nil {
			return snap, false, errors.Wrap(err, "scan commitment")
		}
		snap.Spent = append(snap.Spent, common.HexToHash(c))
	}
	if err = rows.Err(); err != nil {
		return snap, false, errors.Wrap(err, "spent commitments")
	}
	return snap, true, nil
}

func scanViews(rows *sql.Rows) ([]game.BetView, error) {
	var views []game.BetView
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan bet")
		}
		var v game.BetView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.Wrap(err, "decode bet")
		}
		views = append(views, v)
	}
	return views, errors.Wrap(rows.Err(), "bet rows")
}
