package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/spec-kit/case-engine/internal/domain"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

const presenceColumns = `agent_id, tenant_id, status, max_capacity, current_load, channels, tier,
               last_heartbeat, available_since, version`

type presenceRepository struct {
	db DBTX
}

// NewPresenceRepository instantiates the pgx presence repository.
func NewPresenceRepository(db DBTX) PresenceRepository {
	return &presenceRepository{db: db}
}

func (r *presenceRepository) Get(ctx context.Context, agentID string) (*domain.AgentPresence, error) {
	query := `SELECT ` + presenceColumns + ` FROM agent_presence WHERE agent_id=$1`
	p, err := scanPresence(r.db.QueryRow(ctx, query, agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("agent presence", map[string]any{"agent_id": agentID})
		}
		return nil, goerr.Wrap(err, "failed to get presence", goerr.V("agent_id", agentID))
	}
	return p, nil
}

func (r *presenceRepository) SaveIfVersion(ctx context.Context, p *domain.AgentPresence, expected int64) error {
	channels := channelStrings(p.Channels)
	var (
		query string
		args  []any
	)
	if expected == 0 {
		query = `
        INSERT INTO agent_presence (agent_id, tenant_id, status, max_capacity, current_load, channels, tier,
            last_heartbeat, available_since, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)
        ON CONFLICT (agent_id) DO NOTHING`
		args = []any{p.AgentID, p.TenantID, p.Status, p.MaxCapacity, p.CurrentLoad, channels, p.Tier, p.LastHeartbeat, p.AvailableSince}
	} else {
		query = `
        UPDATE agent_presence SET status=$2, max_capacity=$3, current_load=$4, channels=$5, tier=$6,
            last_heartbeat=$7, available_since=$8, version=version+1
        WHERE agent_id=$1 AND version=$9`
		args = []any{p.AgentID, p.Status, p.MaxCapacity, p.CurrentLoad, channels, p.Tier, p.LastHeartbeat, p.AvailableSince, expected}
	}

	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return goerr.Wrap(err, "failed to save presence", goerr.V("agent_id", p.AgentID))
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewConflict("agent presence was modified concurrently", map[string]any{
			"agent_id":         p.AgentID,
			"expected_version": expected,
		})
	}
	p.Version = expected + 1
	return nil
}

func (r *presenceRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.AgentPresence, error) {
	query := `SELECT ` + presenceColumns + ` FROM agent_presence WHERE tenant_id=$1 ORDER BY agent_id ASC`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list presence", goerr.V("tenant_id", tenantID))
	}
	defer rows.Close()

	var result []domain.AgentPresence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan presence", goerr.V("tenant_id", tenantID))
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func scanPresence(row rowScanner) (*domain.AgentPresence, error) {
	var (
		p        domain.AgentPresence
		channels []string
	)
	if err := row.Scan(
		&p.AgentID,
		&p.TenantID,
		&p.Status,
		&p.MaxCapacity,
		&p.CurrentLoad,
		&channels,
		&p.Tier,
		&p.LastHeartbeat,
		&p.AvailableSince,
		&p.Version,
	); err != nil {
		return nil, err
	}
	p.Channels = make([]domain.Channel, 0, len(channels))
	for _, ch := range channels {
		p.Channels = append(p.Channels, domain.Channel(ch))
	}
	return &p, nil
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		out = append(out, string(ch))
	}
	return out
}
