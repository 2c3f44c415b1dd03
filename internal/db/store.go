package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/candor/internal/services"
)

var (
	_ services.SurveyStore     = (*Store)(nil)
	_ services.PoolStore       = (*Store)(nil)
	_ services.SubmissionStore = (*Store)(nil)
	_ services.AnalyticsStore  = (*Store)(nil)
)

// Store persists surveys, pools, members and responses in SQLite or Postgres.
type Store struct {
	db     *sql.DB
	driver string
	log    logrus.FieldLogger
}

func NewStore(db *sql.DB, driver string, log logrus.FieldLogger) (*Store, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if _, err := dialectDir(driver); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, driver: driver, log: log.WithField("component", "store")}, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn in a transaction that is rolled back unless fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
				s.log.WithError(rerr).Warn("rollback failed")
			}
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Surveys

const surveyColumns = `id, org_id, name, description, questions, status, created_at, updated_at`

func scanSurvey(row scanner) (*services.Survey, error) {
	var sv services.Survey
	var questions []byte
	var status string
	if err := row.Scan(&sv.ID, &sv.OrgID, &sv.Name, &sv.Description, &questions, &status, &sv.CreatedAt, &sv.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questions, &sv.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of survey %s: %w", sv.ID, err)
	}
	sv.Status = services.SurveyStatus(status)
	sv.CreatedAt = sv.CreatedAt.UTC()
	sv.UpdatedAt = sv.UpdatedAt.UTC()
	return &sv, nil
}

func (s *Store) InsertSurvey(ctx context.Context, sv *services.Survey) error {
	questions, err := json.Marshal(sv.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO surveys (`+surveyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		sv.ID, sv.OrgID, sv.Name, sv.Description, string(questions), string(sv.Status), sv.CreatedAt.UTC(), sv.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert survey: %w", err)
	}
	return nil
}

func (s *Store) GetSurvey(ctx context.Context, id string) (*services.Survey, error) {
	sv, err := scanSurvey(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+surveyColumns+` FROM surveys WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get survey: %w", err)
	}
	return sv, nil
}

func (s *Store) ListSurveys(ctx context.Context, orgID string) ([]*services.Survey, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+surveyColumns+` FROM surveys WHERE org_id = ? ORDER BY created_at, id`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()
	var out []*services.Survey
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSurvey(ctx context.Context, sv *services.Survey) error {
	questions, err := json.Marshal(sv.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`UPDATE surveys SET name = ?, description = ?, questions = ?, status = ?, updated_at = ? WHERE id = ?`),
		sv.Name, sv.Description, string(questions), string(sv.Status), sv.UpdatedAt.UTC(), sv.ID)
	if err != nil {
		return fmt.Errorf("update survey: %w", err)
	}
	return nil
}

func (s *Store) SurveyInUse(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM pools WHERE survey_id = ?`), id).Scan(&n); err != nil {
		return false, fmt.Errorf("count pools by survey: %w", err)
	}
	return n > 0, nil
}

// Pools and members

const poolColumns = `id, org_id, survey_id, name, description, size, status, expires_at, credential_seed, created_at`

func scanPool(row scanner) (*services.Pool, error) {
	var p services.Pool
	var surveyID sql.NullString
	var status string
	var expires sql.NullTime
	if err := row.Scan(&p.ID, &p.OrgID, &surveyID, &p.Name, &p.Description, &p.Size, &status, &expires, &p.CredentialSeed, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.SurveyID = surveyID.String
	p.Status = services.PoolStatus(status)
	p.ExpiresAt = timePtr(expires)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

const memberColumns = `id, pool_id, member_index, member_identifier, display_name, role, employee_ref, submission_count, credential_digest, credential_issued_at, last_submission_at`

func scanMember(row scanner) (*services.PoolMember, error) {
	var m services.PoolMember
	var last sql.NullTime
	if err := row.Scan(&m.ID, &m.PoolID, &m.Index, &m.Handle, &m.DisplayName, &m.Role, &m.EmployeeRef, &m.SubmissionCount, &m.CredentialDigest, &m.CredentialIssuedAt, &last); err != nil {
		return nil, err
	}
	m.CredentialIssuedAt = m.CredentialIssuedAt.UTC()
	m.LastSubmissionAt = timePtr(last)
	return &m, nil
}

// CreatePool writes the pool and all of its members or nothing.
func (s *Store) CreatePool(ctx context.Context, p *services.Pool, members []*services.PoolMember) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO pools (`+poolColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			p.ID, p.OrgID, nullString(p.SurveyID), p.Name, p.Description, p.Size, string(p.Status), nullTime(p.ExpiresAt), p.CredentialSeed, p.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}
		stmt := s.rebind(`INSERT INTO pool_members (` + memberColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, m := range members {
			_, err := tx.ExecContext(ctx, stmt, m.ID, p.ID, m.Index, m.Handle, m.DisplayName, m.Role, m.EmployeeRef,
				m.SubmissionCount, m.CredentialDigest, m.CredentialIssuedAt.UTC(), nullTime(m.LastSubmissionAt))
			if err != nil {
				if isUniqueViolation(err) {
					return services.ErrDuplicateMember
				}
				return fmt.Errorf("insert pool member: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetPool(ctx context.Context, id string) (*services.Pool, error) {
	p, err := scanPool(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+poolColumns+` FROM pools WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

func (s *Store) ListPools(ctx context.Context, orgID string) ([]*services.Pool, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+poolColumns+` FROM pools WHERE org_id = ? ORDER BY created_at, id`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()
	var out []*services.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListMembers(ctx context.Context, poolID string) ([]*services.PoolMember, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+memberColumns+` FROM pool_members WHERE pool_id = ? ORDER BY member_index`), poolID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var out []*services.PoolMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) getMember(ctx context.Context, where string, args ...any) (*services.PoolMember, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+memberColumns+` FROM pool_members WHERE `+where), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (*services.PoolMember, error) {
	return s.getMember(ctx, `id = ?`, id)
}

func (s *Store) GetMemberByHandle(ctx context.Context, poolID, handle string) (*services.PoolMember, error) {
	return s.getMember(ctx, `pool_id = ? AND member_identifier = ?`, poolID, handle)
}

func (s *Store) UpdatePoolStatus(ctx context.Context, id string, status services.PoolStatus) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`UPDATE pools SET status = ? WHERE id = ?`), string(status), id); err != nil {
		return fmt.Errorf("update pool status: %w", err)
	}
	return nil
}

func (s *Store) UpdateMemberCredential(ctx context.Context, memberID, digest string, issuedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE pool_members SET credential_digest = ?, credential_issued_at = ? WHERE id = ?`),
		digest, issuedAt.UTC(), memberID)
	if err != nil {
		return fmt.Errorf("update member credential: %w", err)
	}
	return nil
}

// DeletePool removes responses and members before the pool row itself.
func (s *Store) DeletePool(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM responses WHERE pool_id = ?`), id); err != nil {
			return fmt.Errorf("delete responses: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM pool_members WHERE pool_id = ?`), id); err != nil {
			return fmt.Errorf("delete members: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM pools WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete pool: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete pool: %w", err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ExpireOverdue flips active pools whose deadline has passed. Deadlines are
// compared in Go so both dialects agree on timestamp semantics.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, expires_at FROM pools WHERE status = ? AND expires_at IS NOT NULL`), string(services.PoolActive))
	if err != nil {
		return 0, fmt.Errorf("list expiring pools: %w", err)
	}
	var due []string
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expiring pool: %w", err)
		}
		if now.After(at) {
			due = append(due, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range due {
		res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE pools SET status = ? WHERE id = ? AND status = ?`),
			string(services.PoolExpired), id, string(services.PoolActive))
		if err != nil {
			return n, fmt.Errorf("expire pool: %w", err)
		}
		if c, _ := res.RowsAffected(); c > 0 {
			n++
		}
	}
	return n, nil
}
