package services

import (
	"time"
)

type QuestionType string

const (
	QuestionRating QuestionType = "rating"
	QuestionText   QuestionType = "text"
	QuestionChoice QuestionType = "choice"
)

const (
	defaultRatingMin = 1
	defaultRatingMax = 10
)

type Question struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Options  []string     `json:"options,omitempty"`
	Min      int          `json:"min,omitempty"`
	Max      int          `json:"max,omitempty"`
}

// Bounds returns the inclusive rating range, defaulting to 1..10.
func (q Question) Bounds() (int, int) {
	if q.Min == 0 && q.Max == 0 {
		return defaultRatingMin, defaultRatingMax
	}
	return q.Min, q.Max
}

// DefaultQuestions is the form used by pools created without a survey.
func DefaultQuestions() []Question {
	return []Question{
		{ID: "overall", Label: "Overall, how effective is this colleague?", Type: QuestionRating, Required: true, Min: defaultRatingMin, Max: defaultRatingMax},
		{ID: "strengths", Label: "What does this colleague do well?", Type: QuestionText},
		{ID: "improvements", Label: "What could this colleague improve?", Type: QuestionText},
	}
}

type SurveyStatus string

const (
	SurveyActive   SurveyStatus = "active"
	SurveyArchived SurveyStatus = "archived"
)

type Survey struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"org_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Questions   []Question   `json:"questions"`
	Status      SurveyStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type PoolStatus string

// Completion is derived from member counts and never stored as a status.
const (
	PoolActive  PoolStatus = "active"
	PoolExpired PoolStatus = "expired"
)

type Pool struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	SurveyID       string     `json:"survey_id,omitempty"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Size           int        `json:"size"`
	Status         PoolStatus `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CredentialSeed string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Quota is the number of submissions each member owes: everyone but themselves.
func (p *Pool) Quota() int { return p.Size - 1 }

// PoolMember is one participant of a pool. Handle is the opaque identifier
// carried inside the member's credential; it never leaves this package in a
// response.
type PoolMember struct {
	ID                 string     `json:"id"`
	PoolID             string     `json:"pool_id"`
	Index              int        `json:"member_index"`
	Handle             string     `json:"-"`
	DisplayName        string     `json:"name"`
	Role               string     `json:"role"`
	EmployeeRef        string     `json:"employee_id,omitempty"`
	SubmissionCount    int        `json:"submission_count"`
	CredentialDigest   string     `json:"-"`
	CredentialIssuedAt time.Time  `json:"credential_issued_at"`
	LastSubmissionAt   *time.Time `json:"-"`
}

type Answer struct {
	QuestionID string `json:"question_id"`
	Value      any    `json:"value"`
}

// Response is a stored answer set. SubmitterMemberID exists for the
// uniqueness and quota checks only and is never copied into analytics output.
type Response struct {
	ID                string
	OrgID             string
	PoolID            string
	SurveyID          string
	SubmitterMemberID string
	TargetMemberID    string
	Answers           []Answer
	SubmittedAt       time.Time
}

type Completion struct {
	Completed           bool `json:"completed"`
	MembersCompleted    int  `json:"members_completed"`
	Members             int  `json:"members"`
	Submissions         int  `json:"submissions"`
	ExpectedSubmissions int  `json:"expected_submissions"`
}

func computeCompletion(p *Pool, members []*PoolMember) Completion {
	c := Completion{Members: len(members), ExpectedSubmissions: len(members) * p.Quota()}
	for _, m := range members {
		c.Submissions += m.SubmissionCount
		if m.SubmissionCount >= p.Quota() {
			c.MembersCompleted++
		}
	}
	c.Completed = len(members) > 0 && c.MembersCompleted == len(members)
	return c
}
