// Package models holds the JSON request and envelope types of the HTTP API.
package models

import "time"

type MemberRequest struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	EmployeeID string `json:"employee_id,omitempty"`
}

type CreatePoolRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	SurveyID    string          `json:"survey_id,omitempty"`
	Members     []MemberRequest `json:"members"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

type QuestionPayload struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Min      int      `json:"min,omitempty"`
	Max      int      `json:"max,omitempty"`
}

type SurveyRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Questions   []QuestionPayload `json:"questions"`
}

// SurveyPatchRequest leaves absent fields unchanged.
type SurveyPatchRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Questions   []QuestionPayload `json:"questions,omitempty"`
}

// TokenRequest is the body of every credential-only public call.
type TokenRequest struct {
	Token string `json:"token"`
}

type AnswerPayload struct {
	QuestionID string `json:"question_id"`
	Value      any    `json:"value"`
}

type SubmitRequest struct {
	Token          string          `json:"token"`
	TargetMemberID string          `json:"target_member_id"`
	Answers        []AnswerPayload `json:"answers"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

type HealthResponse struct {
	OK        bool   `json:"ok"`
	Name      string `json:"name"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}
