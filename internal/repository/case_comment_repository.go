package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/spec-kit/case-engine/internal/domain"
)

type commentRepository struct {
	db DBTX
}

// NewCommentRepository builds repository.
func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, c *domain.CaseComment) error {
	const query = `
        INSERT INTO case_comments (id, tenant_id, case_id, author_id, body, is_public, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.db.Exec(ctx, query, c.ID, c.TenantID, c.CaseID, c.AuthorID, c.Body, c.IsPublic, c.CreatedAt); err != nil {
		return goerr.Wrap(err, "failed to insert comment", goerr.V("case_id", c.CaseID))
	}
	return nil
}

func (r *commentRepository) ListByCase(ctx context.Context, tenantID, caseID string) ([]domain.CaseComment, error) {
	const query = `
        SELECT id, tenant_id, case_id, author_id, body, is_public, created_at
        FROM case_comments WHERE tenant_id=$1 AND case_id=$2 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, tenantID, caseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list comments", goerr.V("case_id", caseID))
	}
	defer rows.Close()

	var result []domain.CaseComment
	for rows.Next() {
		var c domain.CaseComment
		if err := rows.Scan(&c.ID, &c.TenantID, &c.CaseID, &c.AuthorID, &c.Body, &c.IsPublic, &c.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan comment", goerr.V("case_id", caseID))
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
