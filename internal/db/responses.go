package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soaringjerry/candor/internal/services"
)

const responseColumns = `id, org_id, pool_id, survey_id, submitter_member_id, target_member_id, answers, submitted_at`

func scanResponse(row scanner) (*services.Response, error) {
	var r services.Response
	var surveyID sql.NullString
	var answers []byte
	if err := row.Scan(&r.ID, &r.OrgID, &r.PoolID, &surveyID, &r.SubmitterMemberID, &r.TargetMemberID, &answers, &r.SubmittedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &r.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of response %s: %w", r.ID, err)
	}
	r.SurveyID = surveyID.String
	r.SubmittedAt = r.SubmittedAt.UTC()
	return &r, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertResponse(ctx context.Context, ex execer, r *services.Response) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(`INSERT INTO responses (`+responseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.OrgID, r.PoolID, nullString(r.SurveyID), r.SubmitterMemberID, r.TargetMemberID, string(answers), r.SubmittedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return services.ErrDuplicateResponse
		}
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// InsertResponse stores r, failing with services.ErrDuplicateResponse when
// the submitter already reviewed the target in this pool.
func (s *Store) InsertResponse(ctx context.Context, r *services.Response) error {
	return s.insertResponse(ctx, s.db, r)
}

func (s *Store) findResponses(ctx context.Context, where string, args ...any) ([]*services.Response, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+responseColumns+` FROM responses WHERE `+where+` ORDER BY submitted_at, id`), args...)
	if err != nil {
		return nil, fmt.Errorf("find responses: %w", err)
	}
	defer rows.Close()
	var out []*services.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FindByTarget(ctx context.Context, poolID, targetMemberID string) ([]*services.Response, error) {
	return s.findResponses(ctx, `pool_id = ? AND target_member_id = ?`, poolID, targetMemberID)
}

func (s *Store) FindByPool(ctx context.Context, poolID string) ([]*services.Response, error) {
	return s.findResponses(ctx, `pool_id = ?`, poolID)
}

func (s *Store) CountBySubmitter(ctx context.Context, poolID, submitterID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM responses WHERE pool_id = ? AND submitter_member_id = ?`),
		poolID, submitterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

// RecordSubmission inserts r and rewrites the submitter's counter from the
// response rows inside one transaction. The no-op update on the member row
// takes its row lock first so concurrent submissions by the same member
// queue behind each other on Postgres; SQLite gets the same effect from
// immediate transactions.
func (s *Store) RecordSubmission(ctx context.Context, r *services.Response, quota int) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE pool_members SET submission_count = submission_count WHERE id = ? AND pool_id = ?`),
			r.SubmitterMemberID, r.PoolID)
		if err != nil {
			return fmt.Errorf("lock member: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.New("submitter not in pool")
		}
		if err := s.insertResponse(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM responses WHERE pool_id = ? AND submitter_member_id = ?`),
			r.PoolID, r.SubmitterMemberID).Scan(&count); err != nil {
			return fmt.Errorf("count responses: %w", err)
		}
		if count > quota {
			return services.ErrQuotaReached
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE pool_members SET submission_count = ?, last_submission_at = ? WHERE id = ?`),
			count, r.SubmittedAt.UTC(), r.SubmitterMemberID)
		if err != nil {
			return fmt.Errorf("update submission count: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
