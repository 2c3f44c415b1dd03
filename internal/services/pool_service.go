package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultPoolSize = 5

type PoolStore interface {
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	CreatePool(ctx context.Context, p *Pool, members []*PoolMember) error
	GetPool(ctx context.Context, id string) (*Pool, error)
	ListPools(ctx context.Context, orgID string) ([]*Pool, error)
	ListMembers(ctx context.Context, poolID string) ([]*PoolMember, error)
	GetMember(ctx context.Context, id string) (*PoolMember, error)
	UpdatePoolStatus(ctx context.Context, id string, status PoolStatus) error
	UpdateMemberCredential(ctx context.Context, memberID, digest string, issuedAt time.Time) error
	DeletePool(ctx context.Context, id string) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

type PoolConfig struct {
	// Size is N, the exact number of members every new pool must have.
	Size int
	// LinkBase is prefixed to a raw credential to build a member's public link.
	LinkBase string
	Logger   logrus.FieldLogger
}

type PoolService struct {
	store    PoolStore
	creds    *CredentialService
	cache    SessionCache
	size     int
	linkBase string
	log      logrus.FieldLogger
	now      func() time.Time
	idGen    func() string
	seedGen  func() string
}

type MemberInput struct {
	Name       string
	Role       string
	EmployeeID string
}

type CreatePoolInput struct {
	Name        string
	Description string
	SurveyID    string
	Members     []MemberInput
	ExpiresAt   *time.Time
}

// IssuedMember is the only place a raw credential appears, inside PublicLink.
type IssuedMember struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	PublicLink string `json:"public_link"`
}

type CreatePoolResult struct {
	Pool           *Pool          `json:"pool"`
	Members        []IssuedMember `json:"members"`
	PublicLinkBase string         `json:"public_link_base"`
}

type PoolDetails struct {
	Pool       *Pool         `json:"pool"`
	Members    []*PoolMember `json:"members"`
	Completion Completion    `json:"completion_status"`
}

func NewPoolService(store PoolStore, creds *CredentialService, cache SessionCache, cfg PoolConfig) *PoolService {
	if cfg.Size < 2 {
		cfg.Size = DefaultPoolSize
	}
	if cache == nil {
		cache = NopSessionCache{}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	return &PoolService{
		store:    store,
		creds:    creds,
		cache:    cache,
		size:     cfg.Size,
		linkBase: cfg.LinkBase,
		log:      cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    uuid.NewString,
		seedGen:  randomSeed,
	}
}

func (s *PoolService) CreatePool(ctx context.Context, orgID string, in CreatePoolInput) (*CreatePoolResult, error) {
	if orgID == "" {
		return nil, NewUnauthorizedError("organization required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, NewInvalidError("name required")
	}
	if len(in.Members) != s.size {
		return nil, NewInvalidError(fmt.Sprintf("a pool needs exactly %d members, got %d", s.size, len(in.Members)))
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, NewInvalidError("expires_at must be in the future")
	}
	if in.SurveyID != "" {
		sv, err := s.store.GetSurvey(ctx, in.SurveyID)
		if err != nil {
			return nil, err
		}
		if sv == nil || sv.OrgID != orgID {
			return nil, NewInvalidError("unknown survey")
		}
		if sv.Status != SurveyActive {
			return nil, NewInvalidError("survey is archived")
		}
	}

	refs := make(map[string]struct{}, len(in.Members))
	for i, m := range in.Members {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Role) == "" {
			return nil, NewInvalidError(fmt.Sprintf("member %d: name and role required", i+1))
		}
		ref := strings.TrimSpace(m.EmployeeID)
		if ref == "" {
			continue
		}
		if _, dup := refs[ref]; dup {
			return nil, NewInvalidError(fmt.Sprintf("member %d: employee %q listed twice", i+1, ref))
		}
		refs[ref] = struct{}{}
	}

	pool := &Pool{
		ID:             s.idGen(),
		OrgID:          orgID,
		SurveyID:       in.SurveyID,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Size:           s.size,
		Status:         PoolActive,
		ExpiresAt:      in.ExpiresAt,
		CredentialSeed: s.seedGen(),
		CreatedAt:      now,
	}
	members := make([]*PoolMember, 0, s.size)
	issued := make([]IssuedMember, 0, s.size)
	for i, m := range in.Members {
		handle := s.idGen()
		token, err := s.creds.Issue(pool.ID, handle, orgID, pool.CredentialSeed)
		if err != nil {
			return nil, fmt.Errorf("issue credential: %w", err)
		}
		pm := &PoolMember{
			ID:                 s.idGen(),
			PoolID:             pool.ID,
			Index:              i + 1,
			Handle:             handle,
			DisplayName:        strings.TrimSpace(m.Name),
			Role:               strings.TrimSpace(m.Role),
			EmployeeRef:        strings.TrimSpace(m.EmployeeID),
			CredentialDigest:   s.creds.Digest(token),
			CredentialIssuedAt: now,
		}
		members = append(members, pm)
		issued = append(issued, IssuedMember{ID: pm.ID, Name: pm.DisplayName, Role: pm.Role, PublicLink: s.linkBase + token})
	}
	if err := s.store.CreatePool(ctx, pool, members); err != nil {
		if errors.Is(err, ErrDuplicateMember) {
			return nil, NewInvalidError("duplicate pool member")
		}
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"pool_id": pool.ID, "org_id": orgID, "size": pool.Size}).Info("pool created")
	return &CreatePoolResult{Pool: pool, Members: issued, PublicLinkBase: s.linkBase}, nil
}

func (s *PoolService) GetPoolDetails(ctx context.Context, orgID, poolID string) (*PoolDetails, error) {
	p, err := s.orgPool(ctx, orgID, poolID)
	if err != nil {
		return nil, err
	}
	if _, err := expireIfDue(ctx, s.store, p, s.now(), s.log); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	sortMembers(members)
	return &PoolDetails{Pool: p, Members: members, Completion: computeCompletion(p, members)}, nil
}

type PoolSummary struct {
	Pool       *Pool      `json:"pool"`
	Completion Completion `json:"completion_status"`
}

func (s *PoolService) ListPools(ctx context.Context, orgID string) ([]PoolSummary, error) {
	if orgID == "" {
		return nil, NewUnauthorizedError("organization required")
	}
	pools, err := s.store.ListPools(ctx, orgID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]PoolSummary, 0, len(pools))
	for _, p := range pools {
		if _, err := expireIfDue(ctx, s.store, p, now, s.log); err != nil {
			return nil, err
		}
		members, err := s.store.ListMembers(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, PoolSummary{Pool: p, Completion: computeCompletion(p, members)})
	}
	return out, nil
}

// DeletePool removes the pool with its members and responses.
func (s *PoolService) DeletePool(ctx context.Context, orgID, poolID string) error {
	p, err := s.orgPool(ctx, orgID, poolID)
	if err != nil {
		return err
	}
	members, err := s.store.ListMembers(ctx, p.ID)
	if err != nil {
		return err
	}
	ok, err := s.store.DeletePool(ctx, p.ID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("pool not found")
	}
	for _, m := range members {
		s.cache.Evict(m.CredentialDigest)
	}
	s.log.WithField("pool_id", p.ID).Info("pool deleted")
	return nil
}

// ExpirePool closes a pool to new submissions ahead of its deadline.
func (s *PoolService) ExpirePool(ctx context.Context, orgID, poolID string) (*Pool, error) {
	p, err := s.orgPool(ctx, orgID, poolID)
	if err != nil {
		return nil, err
	}
	if p.Status != PoolExpired {
		if err := s.store.UpdatePoolStatus(ctx, p.ID, PoolExpired); err != nil {
			return nil, err
		}
		p.Status = PoolExpired
		s.log.WithField("pool_id", p.ID).Info("pool expired by admin")
	}
	return p, nil
}

// RotateCredential replaces a member's credential. The member keeps its
// handle, so submissions made with the old credential still count.
func (s *PoolService) RotateCredential(ctx context.Context, orgID, poolID, memberID string) (*IssuedMember, error) {
	p, err := s.orgPool(ctx, orgID, poolID)
	if err != nil {
		return nil, err
	}
	expired, err := expireIfDue(ctx, s.store, p, s.now(), s.log)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrPoolExpired
	}
	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil || m.PoolID != p.ID {
		return nil, NewNotFoundError("member not found")
	}
	token, err := s.creds.Issue(p.ID, m.Handle, p.OrgID, p.CredentialSeed)
	if err != nil {
		return nil, fmt.Errorf("issue credential: %w", err)
	}
	if err := s.store.UpdateMemberCredential(ctx, m.ID, s.creds.Digest(token), s.now()); err != nil {
		return nil, err
	}
	s.cache.Evict(m.CredentialDigest)
	s.log.WithFields(logrus.Fields{"pool_id": p.ID, "member_id": m.ID}).Info("credential rotated")
	return &IssuedMember{ID: m.ID, Name: m.DisplayName, Role: m.Role, PublicLink: s.linkBase + token}, nil
}

// SweepExpired flips every overdue active pool to expired in storage.
func (s *PoolService) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("pools", n).Info("expired overdue pools")
	}
	return n, nil
}

func (s *PoolService) orgPool(ctx context.Context, orgID, poolID string) (*Pool, error) {
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil || orgID == "" || p.OrgID != orgID {
		return nil, NewNotFoundError("pool not found")
	}
	return p, nil
}

type poolStatusWriter interface {
	UpdatePoolStatus(ctx context.Context, id string, status PoolStatus) error
}

// expireIfDue reports whether p no longer accepts submissions. A pool past
// its deadline is persisted as expired on the way.
func expireIfDue(ctx context.Context, store poolStatusWriter, p *Pool, now time.Time, log logrus.FieldLogger) (bool, error) {
	if p.Status == PoolExpired {
		return true, nil
	}
	if p.ExpiresAt == nil || !now.After(*p.ExpiresAt) {
		return false, nil
	}
	if err := store.UpdatePoolStatus(ctx, p.ID, PoolExpired); err != nil {
		return false, err
	}
	p.Status = PoolExpired
	log.WithField("pool_id", p.ID).Info("pool expired")
	return true, nil
}

func sortMembers(ms []*PoolMember) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Index < ms[j].Index })
}

func randomSeed() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
