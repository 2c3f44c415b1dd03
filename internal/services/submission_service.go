package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type SubmissionStore interface {
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	GetPool(ctx context.Context, id string) (*Pool, error)
	UpdatePoolStatus(ctx context.Context, id string, status PoolStatus) error
	ListMembers(ctx context.Context, poolID string) ([]*PoolMember, error)
	GetMember(ctx context.Context, id string) (*PoolMember, error)
	GetMemberByHandle(ctx context.Context, poolID, handle string) (*PoolMember, error)
	CountBySubmitter(ctx context.Context, poolID, submitterID string) (int, error)
	// RecordSubmission inserts resp and refreshes the submitter's counter in
	// one transaction. It fails with ErrDuplicateResponse when the
	// (pool, submitter, target) triple exists and with ErrQuotaReached when
	// the submitter would exceed quota. It returns the new submission count.
	RecordSubmission(ctx context.Context, resp *Response, quota int) (int, error)
}

// SubmissionService authenticates anonymous credentials and guards writes
// of feedback responses.
type SubmissionService struct {
	store SubmissionStore
	creds *CredentialService
	cache SessionCache
	log   logrus.FieldLogger
	now   func() time.Time
	idGen func() string
}

type PublicPool struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

type SessionState struct {
	SubmissionCount int `json:"submission_count"`
	Remaining       int `json:"remaining"`
}

type ValidateResult struct {
	Pool    PublicPool   `json:"pool"`
	Session SessionState `json:"session"`
}

type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type SubmitResult struct {
	Remaining int  `json:"remaining"`
	Completed bool `json:"completed"`
}

type Progress struct {
	SubmissionCount int  `json:"submission_count"`
	Remaining       int  `json:"remaining"`
	Completed       bool `json:"completed"`
}

type session struct {
	pool   *Pool
	member *PoolMember
	digest string
}

func NewSubmissionService(store SubmissionStore, creds *CredentialService, cache SessionCache, log logrus.FieldLogger) *SubmissionService {
	if cache == nil {
		cache = NopSessionCache{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &SubmissionService{
		store: store,
		creds: creds,
		cache: cache,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: uuid.NewString,
	}
}

// authenticate resolves a credential to its pool and member: signature and
// kind, pool existence and liveness, then the stored digest.
func (s *SubmissionService) authenticate(ctx context.Context, token string) (*session, error) {
	claims := s.creds.Validate(token)
	if claims == nil {
		return nil, ErrInvalidCredential
	}
	p, err := s.store.GetPool(ctx, claims.PoolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("pool not found")
	}
	if p.OrgID != claims.OrgID || p.CredentialSeed != claims.PoolSeed {
		return nil, ErrInvalidCredential
	}
	expired, err := expireIfDue(ctx, s.store, p, s.now(), s.log)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrPoolExpired
	}
	m, err := s.store.GetMemberByHandle(ctx, p.ID, claims.MemberHandle)
	if err != nil {
		return nil, err
	}
	if m == nil || !s.creds.Matches(token, m.CredentialDigest) {
		return nil, ErrInvalidCredential
	}
	return &session{pool: p, member: m, digest: m.CredentialDigest}, nil
}

// submissionCount prefers the cached hint and falls back to counting rows.
func (s *SubmissionService) submissionCount(ctx context.Context, ss *session) (int, error) {
	if n, ok := s.cache.Get(ss.digest); ok {
		return n, nil
	}
	n, err := s.store.CountBySubmitter(ctx, ss.pool.ID, ss.member.ID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(ss.digest, n)
	return n, nil
}

// Validate describes the pool and the caller's progress. It never writes
// anything besides the lazy expiry flip.
func (s *SubmissionService) Validate(ctx context.Context, token string) (*ValidateResult, error) {
	ss, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	qs, err := questionsFor(ctx, s.store, ss.pool)
	if err != nil {
		return nil, err
	}
	n, err := s.submissionCount(ctx, ss)
	if err != nil {
		return nil, err
	}
	return &ValidateResult{
		Pool:    PublicPool{Name: ss.pool.Name, Description: ss.pool.Description, Questions: qs},
		Session: SessionState{SubmissionCount: n, Remaining: remaining(ss.pool, n)},
	}, nil
}

// Members lists the caller's peers, excluding the caller.
func (s *SubmissionService) Members(ctx context.Context, token string) ([]Peer, error) {
	ss, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListMembers(ctx, ss.pool.ID)
	if err != nil {
		return nil, err
	}
	sortMembers(ms)
	out := make([]Peer, 0, len(ms))
	for _, m := range ms {
		if m.ID == ss.member.ID {
			continue
		}
		out = append(out, Peer{ID: m.ID, Name: m.DisplayName, Role: m.Role})
	}
	return out, nil
}

func (s *SubmissionService) Submit(ctx context.Context, token, targetMemberID string, answers []Answer) (*SubmitResult, error) {
	ss, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if targetMemberID == "" {
		return nil, NewInvalidError("target_member_id required")
	}
	if targetMemberID == ss.member.ID {
		return nil, ErrSelfReview
	}
	quota := ss.pool.Quota()
	if ss.member.SubmissionCount >= quota {
		return nil, ErrQuotaExceeded
	}
	target, err := s.store.GetMember(ctx, targetMemberID)
	if err != nil {
		return nil, err
	}
	if target == nil || target.PoolID != ss.pool.ID {
		return nil, NewNotFoundError("target member not found")
	}
	qs, err := questionsFor(ctx, s.store, ss.pool)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeAnswers(qs, answers)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		ID:                s.idGen(),
		OrgID:             ss.pool.OrgID,
		PoolID:            ss.pool.ID,
		SurveyID:          ss.pool.SurveyID,
		SubmitterMemberID: ss.member.ID,
		TargetMemberID:    target.ID,
		Answers:           normalized,
		SubmittedAt:       s.now(),
	}
	n, err := s.store.RecordSubmission(ctx, resp, quota)
	switch {
	case errors.Is(err, ErrDuplicateResponse):
		return nil, ErrDuplicate
	case errors.Is(err, ErrQuotaReached):
		return nil, ErrQuotaExceeded
	case err != nil:
		return nil, err
	}
	s.cache.Set(ss.digest, n)
	s.log.WithField("pool_id", ss.pool.ID).Debug("feedback recorded")
	return &SubmitResult{Remaining: remaining(ss.pool, n), Completed: n >= quota}, nil
}

func (s *SubmissionService) Progress(ctx context.Context, token string) (*Progress, error) {
	ss, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	n, err := s.submissionCount(ctx, ss)
	if err != nil {
		return nil, err
	}
	return &Progress{SubmissionCount: n, Remaining: remaining(ss.pool, n), Completed: n >= ss.pool.Quota()}, nil
}

func remaining(p *Pool, n int) int {
	if r := p.Quota() - n; r > 0 {
		return r
	}
	return 0
}
