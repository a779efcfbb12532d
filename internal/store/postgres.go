package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser records the reviewer so revisions can reference it and returns
// the stored full name. A blank name never overwrites a stored one.
func (s *PostgresStore) EnsureUser(ctx context.Context, userID uuid.UUID, fullName string) (*string, error) {
	var stored *string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, full_name)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO UPDATE
		SET full_name = COALESCE(EXCLUDED.full_name, users.full_name), updated_at = NOW()
		RETURNING full_name
	`, userID, fullName).Scan(&stored)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const principleColumns = `id, name, definition, context_rule, inclusion_criteria, exclusion_criteria`

func scanPrinciple(row interface{ Scan(...any) error }, item *Principle) error {
	return row.Scan(
		&item.ID,
		&item.Name,
		&item.Definition,
		&item.ContextRule,
		&item.InclusionCriteria,
		&item.ExclusionCriteria,
	)
}

func (s *PostgresStore) ListPrinciples(ctx context.Context) ([]Principle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+principleColumns+` FROM principles ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list principles: %w", err)
	}
	defer rows.Close()

	items := make([]Principle, 0)
	for rows.Next() {
		var item Principle
		if err := scanPrinciple(rows, &item); err != nil {
			return nil, fmt.Errorf("scan principle: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principles: %w", err)
	}
	return items, nil
}

// UpdatePrinciple loads the principle under a row lock, lets mutate change
// it and writes the result back in the same transaction. sql.ErrNoRows is
// returned unwrapped when the id is unknown.
func (s *PostgresStore) UpdatePrinciple(ctx context.Context, principleID string, mutate func(*Principle)) (Principle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Principle{}, fmt.Errorf("begin principle update: %w", err)
	}

	var item Principle
	row := tx.QueryRowContext(ctx, `SELECT `+principleColumns+` FROM principles WHERE id=$1 FOR UPDATE`, principleID)
	if err := scanPrinciple(row, &item); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return Principle{}, err
		}
		return Principle{}, fmt.Errorf("load principle: %w", err)
	}

	mutate(&item)

	if _, err := tx.ExecContext(ctx, `
		UPDATE principles
		SET name=$2, definition=$3, inclusion_criteria=$4, exclusion_criteria=$5
		WHERE id=$1
	`, item.ID, item.Name, item.Definition, item.InclusionCriteria, item.ExclusionCriteria); err != nil {
		_ = tx.Rollback()
		return Principle{}, fmt.Errorf("update principle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Principle{}, fmt.Errorf("commit principle update: %w", err)
	}
	return item, nil
}

const sampleColumns = `s.id, s.preceding, s.target, s.following, s.a1_score, s.a2_score, s.a3_score, s.llm_justification, s.llm_evidence_quote, s.principle_id`

func sampleScanTargets(item *Sample) []any {
	return []any{
		&item.ID,
		&item.Preceding,
		&item.Target,
		&item.Following,
		&item.A1Score,
		&item.A2Score,
		&item.A3Score,
		&item.LLMJustification,
		&item.LLMEvidenceQuote,
		&item.PrincipleID,
	}
}

func (s *PostgresStore) GetSample(ctx context.Context, sampleID string) (Sample, error) {
	var item Sample
	err := s.db.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM samples s WHERE s.id=$1`, sampleID).Scan(sampleScanTargets(&item)...)
	if err != nil {
		return Sample{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSamples(ctx context.Context) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM samples s ORDER BY s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	items := make([]Sample, 0)
	for rows.Next() {
		var item Sample
		if err := rows.Scan(sampleScanTargets(&item)...); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return items, nil
}

// The revision join is always restricted to the requesting user; other
// reviewers' overlays must never reach the caller.
const sampleViewQuery = `
	SELECT ` + sampleColumns + `,
		r.id, r.principle_id, r.expert_opinion, r.is_revise_completed, r.created_at, r.updated_at,
		u.full_name
	FROM samples s
	LEFT JOIN user_sample_revisions r ON r.sample_id = s.id AND r.user_id = $2
	LEFT JOIN users u ON u.id = r.user_id
`

func scanSampleView(row interface{ Scan(...any) error }, userID uuid.UUID) (SampleView, error) {
	var (
		view          SampleView
		revisionID    uuid.NullUUID
		principleID   *string
		expertOpinion *string
		completed     sql.NullBool
		createdAt     sql.NullTime
		updatedAt     sql.NullTime
	)
	targets := append(sampleScanTargets(&view.Sample),
		&revisionID,
		&principleID,
		&expertOpinion,
		&completed,
		&createdAt,
		&updatedAt,
		&view.ReviserName,
	)
	if err := row.Scan(targets...); err != nil {
		return SampleView{}, err
	}
	if revisionID.Valid {
		view.Revision = &Revision{
			ID:                revisionID.UUID,
			UserID:            userID,
			SampleID:          view.ID,
			PrincipleID:       principleID,
			ExpertOpinion:     expertOpinion,
			IsReviseCompleted: completed.Valid && completed.Bool,
			CreatedAt:         createdAt.Time,
			UpdatedAt:         updatedAt.Time,
		}
	}
	return view, nil
}

func (s *PostgresStore) GetSampleView(ctx context.Context, sampleID string, userID uuid.UUID) (SampleView, error) {
	view, err := scanSampleView(s.db.QueryRowContext(ctx, sampleViewQuery+` WHERE s.id = $1`, sampleID, userID), userID)
	if err != nil {
		return SampleView{}, err
	}
	return view, nil
}

func (s *PostgresStore) ListSampleViewsByPrinciple(ctx context.Context, principleID string, userID uuid.UUID) ([]SampleView, error) {
	rows, err := s.db.QueryContext(ctx, sampleViewQuery+` WHERE s.principle_id = $1 ORDER BY s.id ASC`, principleID, userID)
	if err != nil {
		return nil, fmt.Errorf("list sample views: %w", err)
	}
	defer rows.Close()

	items := make([]SampleView, 0)
	for rows.Next() {
		view, err := scanSampleView(rows, userID)
		if err != nil {
			return nil, fmt.Errorf("scan sample view: %w", err)
		}
		items = append(items, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample views: %w", err)
	}
	return items, nil
}

const revisionReturning = `RETURNING id, user_id, sample_id, principle_id, expert_opinion, is_revise_completed, created_at, updated_at`

func scanRevision(row *sql.Row) (Revision, error) {
	var item Revision
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.SampleID,
		&item.PrincipleID,
		&item.ExpertOpinion,
		&item.IsReviseCompleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// UpsertRevisionOpinion sets the user's expert opinion on a sample. The
// first write creates the revision with the sample's principle copied in;
// later writes only touch expert_opinion and updated_at. sql.ErrNoRows means
// the sample does not exist and nothing was written.
func (s *PostgresStore) UpsertRevisionOpinion(ctx context.Context, userID uuid.UUID, sampleID, opinion string, at time.Time) (Revision, error) {
	item, err := scanRevision(s.db.QueryRowContext(ctx, `
		INSERT INTO user_sample_revisions (id, user_id, sample_id, principle_id, expert_opinion, is_revise_completed, created_at, updated_at)
		SELECT $1, $2, s.id, s.principle_id, $4, FALSE, $5, $5
		FROM samples s
		WHERE s.id = $3
		ON CONFLICT (user_id, sample_id) DO UPDATE
		SET expert_opinion = EXCLUDED.expert_opinion,
			updated_at = GREATEST(user_sample_revisions.updated_at, EXCLUDED.updated_at)
		`+revisionReturning, uuid.New(), userID, sampleID, opinion, at.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, err
	}
	if err != nil {
		return Revision{}, fmt.Errorf("upsert revision opinion: %w", err)
	}
	return item, nil
}

// UpsertRevisionCompletion sets the user's completion flag on a sample. A
// revision created here starts with an empty (not null) expert opinion.
func (s *PostgresStore) UpsertRevisionCompletion(ctx context.Context, userID uuid.UUID, sampleID string, completed bool, at time.Time) (Revision, error) {
	item, err := scanRevision(s.db.QueryRowContext(ctx, `
		INSERT INTO user_sample_revisions (id, user_id, sample_id, principle_id, expert_opinion, is_revise_completed, created_at, updated_at)
		SELECT $1, $2, s.id, s.principle_id, '', $4, $5, $5
		FROM samples s
		WHERE s.id = $3
		ON CONFLICT (user_id, sample_id) DO UPDATE
		SET is_revise_completed = EXCLUDED.is_revise_completed,
			updated_at = GREATEST(user_sample_revisions.updated_at, EXCLUDED.updated_at)
		`+revisionReturning, uuid.New(), userID, sampleID, completed, at.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, err
	}
	if err != nil {
		return Revision{}, fmt.Errorf("upsert revision completion: %w", err)
	}
	return item, nil
}
