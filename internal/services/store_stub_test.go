package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory store that enforces the same uniqueness rules
// as the SQL schema.
type memStore struct {
	mu           sync.Mutex
	surveys      map[string]*Survey
	pools        map[string]*Pool
	members      map[string]*PoolMember
	responses    []*Response
	statusWrites int
	countQueries int
}

func newMemStore() *memStore {
	return &memStore{
		surveys: map[string]*Survey{},
		pools:   map[string]*Pool{},
		members: map[string]*PoolMember{},
	}
}

func (s *memStore) InsertSurvey(_ context.Context, sv *Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sv
	s.surveys[sv.ID] = &cp
	return nil
}

func (s *memStore) GetSurvey(_ context.Context, id string) (*Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.surveys[id]
	if !ok {
		return nil, nil
	}
	cp := *sv
	cp.Questions = append([]Question(nil), sv.Questions...)
	return &cp, nil
}

func (s *memStore) ListSurveys(_ context.Context, orgID string) ([]*Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Survey
	for _, sv := range s.surveys {
		if sv.OrgID == orgID {
			cp := *sv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateSurvey(_ context.Context, sv *Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sv
	s.surveys[sv.ID] = &cp
	return nil
}

func (s *memStore) SurveyInUse(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pools {
		if p.SurveyID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreatePool(_ context.Context, p *Pool, members []*PoolMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := map[string]bool{}
	for _, m := range members {
		if handles[m.Handle] {
			return ErrDuplicateMember
		}
		handles[m.Handle] = true
	}
	cp := *p
	s.pools[p.ID] = &cp
	for _, m := range members {
		mc := *m
		s.members[m.ID] = &mc
	}
	return nil
}

func (s *memStore) GetPool(_ context.Context, id string) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListPools(_ context.Context, orgID string) ([]*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Pool
	for _, p := range s.pools {
		if p.OrgID == orgID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListMembers(_ context.Context, poolID string) ([]*PoolMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PoolMember
	for _, m := range s.members {
		if m.PoolID == poolID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) GetMember(_ context.Context, id string) (*PoolMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetMemberByHandle(_ context.Context, poolID, handle string) (*PoolMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.PoolID == poolID && m.Handle == handle {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdatePoolStatus(_ context.Context, id string, status PoolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[id]; ok {
		p.Status = status
		s.statusWrites++
	}
	return nil
}

func (s *memStore) UpdateMemberCredential(_ context.Context, memberID, digest string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[memberID]; ok {
		m.CredentialDigest = digest
		m.CredentialIssuedAt = issuedAt
	}
	return nil
}

func (s *memStore) DeletePool(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[id]; !ok {
		return false, nil
	}
	delete(s.pools, id)
	for mid, m := range s.members {
		if m.PoolID == id {
			delete(s.members, mid)
		}
	}
	kept := s.responses[:0]
	for _, r := range s.responses {
		if r.PoolID != id {
			kept = append(kept, r)
		}
	}
	s.responses = kept
	return true, nil
}

func (s *memStore) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pools {
		if p.Status == PoolActive && p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
			p.Status = PoolExpired
			n++
		}
	}
	return n, nil
}

func (s *memStore) InsertResponse(_ context.Context, r *Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(r)
}

func (s *memStore) insertLocked(r *Response) error {
	for _, x := range s.responses {
		if x.PoolID == r.PoolID && x.SubmitterMemberID == r.SubmitterMemberID && x.TargetMemberID == r.TargetMemberID {
			return ErrDuplicateResponse
		}
	}
	cp := *r
	s.responses = append(s.responses, &cp)
	return nil
}

func (s *memStore) FindByTarget(_ context.Context, poolID, targetID string) ([]*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Response
	for _, r := range s.responses {
		if r.PoolID == poolID && r.TargetMemberID == targetID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) FindByPool(_ context.Context, poolID string) ([]*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Response
	for _, r := range s.responses {
		if r.PoolID == poolID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CountBySubmitter(_ context.Context, poolID, submitterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countQueries++
	return s.countLocked(poolID, submitterID), nil
}

func (s *memStore) countLocked(poolID, submitterID string) int {
	n := 0
	for _, r := range s.responses {
		if r.PoolID == poolID && r.SubmitterMemberID == submitterID {
			n++
		}
	}
	return n
}

func (s *memStore) RecordSubmission(_ context.Context, r *Response, quota int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countLocked(r.PoolID, r.SubmitterMemberID) >= quota {
		return 0, ErrQuotaReached
	}
	if err := s.insertLocked(r); err != nil {
		return 0, err
	}
	n := s.countLocked(r.PoolID, r.SubmitterMemberID)
	if m, ok := s.members[r.SubmitterMemberID]; ok {
		m.SubmissionCount = n
		at := r.SubmittedAt
		m.LastSubmissionAt = &at
	}
	return n, nil
}

const testLinkBase = "https://feedback.test/f?token="

type fixture struct {
	store     *memStore
	creds     *CredentialService
	cache     *LRUSessionCache
	pools     *PoolService
	subs      *SubmissionService
	analytics *AnalyticsService
	surveys   *SurveyService
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	creds, err := NewCredentialService("unit-test-secret-0123456789", 0)
	if err != nil {
		t.Fatalf("credential service: %v", err)
	}
	store := newMemStore()
	cache := NewLRUSessionCache(64, time.Hour)
	f := &fixture{
		store:     store,
		creds:     creds,
		cache:     cache,
		pools:     NewPoolService(store, creds, cache, PoolConfig{Size: 5, LinkBase: testLinkBase}),
		subs:      NewSubmissionService(store, creds, cache, nil),
		analytics: NewAnalyticsService(store),
		surveys:   NewSurveyService(store),
	}
	f.setNow(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.now = now
	clock := func() time.Time { return f.now }
	f.creds.now = clock
	f.pools.now = clock
	f.subs.now = clock
	f.surveys.now = clock
}

func memberInputs(names ...string) []MemberInput {
	out := make([]MemberInput, 0, len(names))
	for _, n := range names {
		out = append(out, MemberInput{Name: n, Role: "engineer", EmployeeID: "emp-" + strings.ToLower(n)})
	}
	return out
}

type createdPool struct {
	res    *CreatePoolResult
	tokens map[string]string
	ids    map[string]string
}

func (f *fixture) createPool(t *testing.T, orgID string, in CreatePoolInput) *createdPool {
	t.Helper()
	if in.Name == "" {
		in.Name = "Q1 review"
	}
	if in.Members == nil {
		in.Members = memberInputs("A", "B", "C", "D", "E")
	}
	res, err := f.pools.CreatePool(context.Background(), orgID, in)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	cp := &createdPool{res: res, tokens: map[string]string{}, ids: map[string]string{}}
	for _, m := range res.Members {
		if !strings.HasPrefix(m.PublicLink, testLinkBase) {
			t.Fatalf("unexpected link %q", m.PublicLink)
		}
		cp.tokens[m.Name] = strings.TrimPrefix(m.PublicLink, testLinkBase)
		cp.ids[m.Name] = m.ID
	}
	return cp
}

func rating(v int) []Answer {
	return []Answer{{QuestionID: "overall", Value: v}}
}
