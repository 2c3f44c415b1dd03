package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitQuotaScenario(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	ctx := context.Background()

	for i, target := range []string{"B", "C", "D", "E"} {
		res, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids[target], rating(8))
		if err != nil {
			t.Fatalf("submit %s: %v", target, err)
		}
		if res.Remaining != 3-i {
			t.Fatalf("after %s: remaining=%d", target, res.Remaining)
		}
		if res.Completed != (i == 3) {
			t.Fatalf("after %s: completed=%v", target, res.Completed)
		}
	}
	_, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(8))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	m, _ := f.store.GetMember(ctx, cp.ids["A"])
	if m.SubmissionCount != 4 || m.LastSubmissionAt == nil {
		t.Fatalf("unexpected member state %+v", m)
	}
}

func TestSubmitDuplicateScenario(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	ctx := context.Background()
	if _, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(6)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(9))
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorConflict || se.Reason != ReasonDuplicate {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}
	if n, _ := f.store.CountBySubmitter(ctx, cp.res.Pool.ID, cp.ids["A"]); n != 1 {
		t.Fatalf("expected one stored response, got %d", n)
	}
}

func TestSubmitSelfReviewRejectedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	_, err := f.subs.Submit(context.Background(), cp.tokens["A"], cp.ids["A"], rating(10))
	if !errors.Is(err, ErrSelfReview) {
		t.Fatalf("expected self review, got %v", err)
	}
	if len(f.store.responses) != 0 {
		t.Fatalf("self review must not write")
	}
}

func TestExpiredPoolScenario(t *testing.T) {
	f := newFixture(t)
	exp := f.now.Add(24 * time.Hour)
	cp := f.createPool(t, "org-1", CreatePoolInput{ExpiresAt: &exp})
	ctx := context.Background()
	if _, err := f.subs.Validate(ctx, cp.tokens["A"]); err != nil {
		t.Fatalf("validate before expiry: %v", err)
	}
	f.setNow(exp.Add(time.Minute))

	calls := map[string]func() error{
		"validate": func() error { _, err := f.subs.Validate(ctx, cp.tokens["A"]); return err },
		"members":  func() error { _, err := f.subs.Members(ctx, cp.tokens["A"]); return err },
		"submit":   func() error { _, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(5)); return err },
		"progress": func() error { _, err := f.subs.Progress(ctx, cp.tokens["A"]); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrPoolExpired) {
			t.Fatalf("%s: expected pool expired, got %v", name, err)
		}
	}
	p, _ := f.store.GetPool(ctx, cp.res.Pool.ID)
	if p.Status != PoolExpired {
		t.Fatalf("expected stored status expired, got %s", p.Status)
	}
	if f.store.statusWrites != 1 {
		t.Fatalf("expected a single status write, got %d", f.store.statusWrites)
	}
}

func TestPoolOpenAtExpiryInstant(t *testing.T) {
	f := newFixture(t)
	exp := f.now.Add(time.Hour)
	cp := f.createPool(t, "org-1", CreatePoolInput{ExpiresAt: &exp})
	ctx := context.Background()

	f.setNow(exp)
	if _, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(6)); err != nil {
		t.Fatalf("submit at expires_at: %v", err)
	}
	f.setNow(exp.Add(time.Nanosecond))
	if _, err := f.subs.Validate(ctx, cp.tokens["A"]); !errors.Is(err, ErrPoolExpired) {
		t.Fatalf("expected pool expired just after expires_at, got %v", err)
	}
}

// pausingStore blocks the first CountBySubmitter call until released, so a
// read can be held open across a concurrent submission.
type pausingStore struct {
	*memStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *pausingStore) CountBySubmitter(ctx context.Context, poolID, submitterID string) (int, error) {
	n, err := s.memStore.CountBySubmitter(ctx, poolID, submitterID)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return n, err
}

func TestProgressDoesNotCacheStaleCount(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	ctx := context.Background()

	ps := &pausingStore{memStore: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	subs := NewSubmissionService(ps, f.creds, f.cache, nil)
	subs.now = f.subs.now

	done := make(chan error, 1)
	go func() {
		_, err := subs.Progress(ctx, cp.tokens["A"])
		done <- err
	}()
	<-ps.entered

	if _, err := subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(7)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	close(ps.release)
	if err := <-done; err != nil {
		t.Fatalf("progress: %v", err)
	}

	p, err := subs.Progress(ctx, cp.tokens["A"])
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(f.store.responses) != 1 || p.SubmissionCount != 1 || p.Remaining != 3 {
		t.Fatalf("stored=%d progress=%+v", len(f.store.responses), p)
	}
}

func TestValidateIsReadOnly(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{Name: "Team Alpha", Description: "quarterly"})
	ctx := context.Background()
	if _, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["C"], rating(4)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := f.subs.Validate(ctx, cp.tokens["A"])
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if res.Session.SubmissionCount != 1 || res.Session.Remaining != 3 {
			t.Fatalf("unexpected session %+v", res.Session)
		}
		if res.Pool.Name != "Team Alpha" || len(res.Pool.Questions) != len(DefaultQuestions()) {
			t.Fatalf("unexpected pool view %+v", res.Pool)
		}
	}
	m, _ := f.store.GetMember(ctx, cp.ids["A"])
	if m.SubmissionCount != 1 || len(f.store.responses) != 1 {
		t.Fatalf("validate must not change state")
	}
}

func TestProgressSurvivesCacheLoss(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	ctx := context.Background()
	for _, target := range []string{"B", "C"} {
		if _, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids[target], rating(6)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	before := f.store.countQueries
	p, err := f.subs.Progress(ctx, cp.tokens["A"])
	if err != nil || p.SubmissionCount != 2 {
		t.Fatalf("progress: %+v %v", p, err)
	}
	if f.store.countQueries != before {
		t.Fatalf("expected progress to be served from the cache")
	}

	f.cache.Evict(f.creds.Digest(cp.tokens["A"]))
	p, err = f.subs.Progress(ctx, cp.tokens["A"])
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.SubmissionCount != 2 || p.Remaining != 2 || p.Completed {
		t.Fatalf("unexpected progress %+v", p)
	}
	if f.store.countQueries != before+1 {
		t.Fatalf("expected a count query after cache loss")
	}

	nop := NewSubmissionService(f.store, f.creds, nil, nil)
	nop.now = f.subs.now
	p, err = nop.Progress(ctx, cp.tokens["A"])
	if err != nil || p.SubmissionCount != 2 {
		t.Fatalf("progress without cache: %+v %v", p, err)
	}
}

func TestMembersExcludesCaller(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	peers, err := f.subs.Members(context.Background(), cp.tokens["C"])
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(peers) != 4 {
		t.Fatalf("expected 4 peers, got %d", len(peers))
	}
	want := []string{"A", "B", "D", "E"}
	for i, p := range peers {
		if p.Name != want[i] || p.ID != cp.ids[want[i]] {
			t.Fatalf("peer %d: got %+v", i, p)
		}
	}
}

func TestSubmitRejectsBadCredentialAndTarget(t *testing.T) {
	f := newFixture(t)
	a := f.createPool(t, "org-1", CreatePoolInput{Name: "a"})
	b := f.createPool(t, "org-1", CreatePoolInput{Name: "b"})
	ctx := context.Background()

	if _, err := f.subs.Submit(ctx, "garbage", a.ids["B"], rating(5)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	_, err := f.subs.Submit(ctx, a.tokens["A"], b.ids["B"], rating(5))
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected target not found, got %v", err)
	}

	// A credential minted for a pool with a different seed is refused even
	// though its signature is valid.
	forged, _ := f.creds.Issue(a.res.Pool.ID, "unknown-handle", "org-1", a.res.Pool.CredentialSeed)
	if _, err := f.subs.Validate(ctx, forged); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected unknown handle rejected, got %v", err)
	}
	reseeded, _ := f.creds.Issue(a.res.Pool.ID, "unknown-handle", "org-1", "other-seed")
	if _, err := f.subs.Validate(ctx, reseeded); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected seed mismatch rejected, got %v", err)
	}
	crossOrg, _ := f.creds.Issue(a.res.Pool.ID, "unknown-handle", "org-2", a.res.Pool.CredentialSeed)
	if _, err := f.subs.Validate(ctx, crossOrg); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected org mismatch rejected, got %v", err)
	}
}

func TestSubmitValidatesAnswers(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	ctx := context.Background()
	bad := map[string][]Answer{
		"empty":        nil,
		"out of range": rating(11),
		"fractional":   {{QuestionID: "overall", Value: 4.5}},
		"unknown":      {{QuestionID: "overall", Value: 5}, {QuestionID: "nope", Value: "x"}},
		"missing req":  {{QuestionID: "strengths", Value: "great"}},
		"wrong type":   {{QuestionID: "overall", Value: "seven"}},
	}
	for name, answers := range bad {
		_, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], answers)
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
			t.Fatalf("%s: expected invalid, got %v", name, err)
		}
	}
	if len(f.store.responses) != 0 {
		t.Fatalf("invalid answers must not be stored")
	}
	ok := []Answer{{QuestionID: "overall", Value: 7.0}, {QuestionID: "strengths", Value: "  clear communicator "}, {QuestionID: "improvements", Value: ""}}
	if _, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], ok); err != nil {
		t.Fatalf("valid answers rejected: %v", err)
	}
	stored := f.store.responses[0].Answers
	if len(stored) != 2 || stored[0].Value != 7 || stored[1].Value != "clear communicator" {
		t.Fatalf("answers not normalized: %+v", stored)
	}
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	f := newFixture(t)
	cp := f.createPool(t, "org-1", CreatePoolInput{})
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, duplicates := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.subs.Submit(ctx, cp.tokens["A"], cp.ids["B"], rating(5))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDuplicate):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 || duplicates != workers-1 {
		t.Fatalf("succeeded=%d duplicates=%d", succeeded, duplicates)
	}
	m, _ := f.store.GetMember(ctx, cp.ids["A"])
	if m.SubmissionCount != 1 {
		t.Fatalf("counter drifted: %d", m.SubmissionCount)
	}
}
