package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"codearena/internal/problem"
)

// ProblemRepository reads the curated problem pool.
type ProblemRepository struct {
	db DBTX
}

// NewProblemRepository constructs a problem repository.
func NewProblemRepository(db DBTX) *ProblemRepository {
	return &ProblemRepository{db: db}
}

// RandomVerified samples one verified problem of the given difficulty
// uniformly at random. An empty pool returns (nil, nil).
func (r *ProblemRepository) RandomVerified(ctx context.Context, difficulty string) (*problem.Problem, error) {
	const q = `SELECT problem_id, title, difficulty, verified, function_signature
		FROM problems
		WHERE difficulty = $1 AND verified
		ORDER BY random()
		LIMIT 1`

	p := &problem.Problem{}
	err := r.db.QueryRow(ctx, q, difficulty).Scan(
		&p.ID, &p.Title, &p.Difficulty, &p.Verified, &p.FunctionSignature)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("random verified problem (%s): %w", difficulty, err)
	}
	return p, nil
}
