package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

// NewPostgresStore builds the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Cases() CaseRepository             { return &caseRepository{db: s.db} }
func (s *PostgresStore) Milestones() MilestoneRepository   { return &milestoneRepository{db: s.db} }
func (s *PostgresStore) Presence() PresenceRepository      { return &presenceRepository{db: s.db} }
func (s *PostgresStore) Transitions() TransitionRepository { return &transitionRepository{db: s.db} }
func (s *PostgresStore) Comments() CommentRepository       { return &commentRepository{db: s.db} }
func (s *PostgresStore) Policies() PolicyRepository        { return &policyRepository{db: s.db} }

// WithinTx runs fn in a single database transaction, rolling back on error.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, db: tx, inTx: true})
	})
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return goerr.New("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}
