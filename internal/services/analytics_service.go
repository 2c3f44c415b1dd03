package services

import (
	"context"
	"fmt"
	"sort"
)

type AnalyticsStore interface {
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	GetPool(ctx context.Context, id string) (*Pool, error)
	GetMember(ctx context.Context, id string) (*PoolMember, error)
	ListMembers(ctx context.Context, poolID string) ([]*PoolMember, error)
	FindByTarget(ctx context.Context, poolID, targetMemberID string) ([]*Response, error)
	FindByPool(ctx context.Context, poolID string) ([]*Response, error)
}

// AnalyticsService reports on stored feedback. None of its result types
// has a field that could carry a submitter identifier.
type AnalyticsService struct {
	store AnalyticsStore
}

type Bucket struct {
	Label string `json:"label"`
	From  int    `json:"from"`
	To    int    `json:"to"`
	Count int    `json:"count"`
}

type QuestionSummary struct {
	Type         QuestionType   `json:"type"`
	Label        string         `json:"label"`
	Answered     int            `json:"answered"`
	Average      *float64       `json:"avg,omitempty"`
	Distribution []Bucket       `json:"distribution,omitempty"`
	TextSamples  []string       `json:"text_samples,omitempty"`
	Choices      map[string]int `json:"choices,omitempty"`
}

type TargetSummary struct {
	TargetMemberID string                      `json:"target_member_id"`
	TotalResponses int                         `json:"total_responses"`
	PerQuestion    map[string]*QuestionSummary `json:"per_question"`
}

// AnonymousEntry is one response with everything but its answers stripped.
type AnonymousEntry struct {
	Answers []Answer `json:"answers"`
}

type ResponseGroup struct {
	MemberIndex    int              `json:"member_index"`
	TargetMemberID string           `json:"target_member_id"`
	Total          int              `json:"total"`
	Responses      []AnonymousEntry `json:"responses"`
}

type PoolResponses struct {
	PoolID            string          `json:"pool_id"`
	Groups            []ResponseGroup `json:"groups"`
	Total             int             `json:"total"`
	RatingConsistency *float64        `json:"rating_consistency,omitempty"`
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// Aggregate summarizes all feedback received by one member. poolID is
// optional; when set the member must belong to it.
func (s *AnalyticsService) Aggregate(ctx context.Context, orgID, targetMemberID, poolID string) (*TargetSummary, error) {
	m, err := s.store.GetMember(ctx, targetMemberID)
	if err != nil {
		return nil, err
	}
	if m == nil || (poolID != "" && m.PoolID != poolID) {
		return nil, NewNotFoundError("member not found")
	}
	p, err := s.store.GetPool(ctx, m.PoolID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.OrgID != orgID {
		return nil, NewNotFoundError("member not found")
	}
	qs, err := questionsFor(ctx, s.store, p)
	if err != nil {
		return nil, err
	}
	rs, err := s.store.FindByTarget(ctx, p.ID, m.ID)
	if err != nil {
		return nil, err
	}
	return &TargetSummary{
		TargetMemberID: m.ID,
		TotalResponses: len(rs),
		PerQuestion:    summarize(qs, rs),
	}, nil
}

// PoolResponses groups a pool's responses by the member they are about.
// Entries within a group are ordered by response id, which is random, so
// their order says nothing about when or by whom they were written.
func (s *AnalyticsService) PoolResponses(ctx context.Context, orgID, poolID string) (*PoolResponses, error) {
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.OrgID != orgID {
		return nil, NewNotFoundError("pool not found")
	}
	members, err := s.store.ListMembers(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	sortMembers(members)
	rs, err := s.store.FindByPool(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	sorted := append([]*Response(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byTarget := make(map[string][]AnonymousEntry, len(members))
	for _, r := range sorted {
		byTarget[r.TargetMemberID] = append(byTarget[r.TargetMemberID], AnonymousEntry{Answers: r.Answers})
	}
	out := &PoolResponses{PoolID: p.ID, Total: len(rs), Groups: make([]ResponseGroup, 0, len(members))}
	for _, m := range members {
		entries := byTarget[m.ID]
		if entries == nil {
			entries = []AnonymousEntry{}
		}
		out.Groups = append(out.Groups, ResponseGroup{
			MemberIndex:    m.Index,
			TargetMemberID: m.ID,
			Total:          len(entries),
			Responses:      entries,
		})
	}

	qs, err := questionsFor(ctx, s.store, p)
	if err != nil {
		return nil, err
	}
	if alpha, ok := ratingConsistency(qs, rs); ok {
		out.RatingConsistency = &alpha
	}
	return out, nil
}

func summarize(qs []Question, rs []*Response) map[string]*QuestionSummary {
	out := make(map[string]*QuestionSummary, len(qs))
	sums := make(map[string]float64)
	for _, q := range qs {
		qsum := &QuestionSummary{Type: q.Type, Label: q.Label}
		switch q.Type {
		case QuestionRating:
			lo, hi := q.Bounds()
			qsum.Distribution = ratingBuckets(lo, hi)
		case QuestionText:
			qsum.TextSamples = []string{}
		case QuestionChoice:
			qsum.Choices = make(map[string]int, len(q.Options))
			for _, opt := range q.Options {
				qsum.Choices[opt] = 0
			}
		}
		out[q.ID] = qsum
	}
	for _, r := range rs {
		for _, a := range r.Answers {
			qsum, ok := out[a.QuestionID]
			if !ok {
				continue
			}
			switch qsum.Type {
			case QuestionRating:
				v, ok := numericValue(a.Value)
				if !ok {
					continue
				}
				qsum.Answered++
				sums[a.QuestionID] += v
				for i := range qsum.Distribution {
					b := &qsum.Distribution[i]
					if int(v) >= b.From && int(v) <= b.To {
						b.Count++
						break
					}
				}
			case QuestionText:
				if s, ok := a.Value.(string); ok && s != "" {
					qsum.Answered++
					qsum.TextSamples = append(qsum.TextSamples, s)
				}
			case QuestionChoice:
				if s, ok := a.Value.(string); ok {
					qsum.Answered++
					qsum.Choices[s]++
				}
			}
		}
	}
	for id, qsum := range out {
		if qsum.Type == QuestionRating && qsum.Answered > 0 {
			avg := sums[id] / float64(qsum.Answered)
			qsum.Average = &avg
		}
	}
	return out
}

// ratingBuckets splits lo..hi into at most five equal-width ranges; 1..10
// yields 1-2, 3-4, 5-6, 7-8, 9-10.
func ratingBuckets(lo, hi int) []Bucket {
	span := hi - lo + 1
	width := (span + 4) / 5
	if width < 1 {
		width = 1
	}
	var out []Bucket
	for from := lo; from <= hi; from += width {
		to := from + width - 1
		if to > hi {
			to = hi
		}
		label := fmt.Sprintf("%d-%d", from, to)
		if from == to {
			label = fmt.Sprintf("%d", from)
		}
		out = append(out, Bucket{Label: label, From: from, To: to})
	}
	return out
}

// ratingConsistency runs Cronbach's alpha over the responses that answered
// every rating question. It needs at least two rating questions.
func ratingConsistency(qs []Question, rs []*Response) (float64, bool) {
	var ids []string
	for _, q := range qs {
		if q.Type == QuestionRating {
			ids = append(ids, q.ID)
		}
	}
	if len(ids) < 2 {
		return 0, false
	}
	var rows [][]float64
	for _, r := range rs {
		vals := make(map[string]float64, len(r.Answers))
		for _, a := range r.Answers {
			if v, ok := numericValue(a.Value); ok {
				vals[a.QuestionID] = v
			}
		}
		row := make([]float64, 0, len(ids))
		for _, id := range ids {
			v, ok := vals[id]
			if !ok {
				break
			}
			row = append(row, v)
		}
		if len(row) == len(ids) {
			rows = append(rows, row)
		}
	}
	if len(rows) < 2 {
		return 0, false
	}
	return cronbachAlpha(rows), true
}
