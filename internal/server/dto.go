package server

import (
	"pactline/internal/domain"
)

// Request payloads

type CreatePactRequest struct {
	Partner           string `json:"partner"`
	CommitmentType    string `json:"commitment_type" enum:"daily_tasks,focus_time,goal_progress,custom"`
	TargetValue       int    `json:"target_value,omitempty"`
	CustomDescription string `json:"custom_description,omitempty"`
}

type RespondPactRequest struct {
	Accept bool `json:"accept"`
}

type EndPactRequest struct {
	Mutual bool `json:"mutual"`
}

type ReportProgressRequest struct {
	CommitmentType string `json:"commitment_type" enum:"daily_tasks,focus_time,goal_progress,custom"`
	Date           string `json:"date" example:"2026-03-14"`
	Value          int    `json:"value"`
}

type CreateUserRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Timezone    string `json:"timezone" example:"Europe/Paris"`
}

type AddFriendRequest struct {
	FriendID string `json:"friend_id"`
}

// Response payloads

type PactResponse struct {
	ID                string  `json:"id"`
	ParticipantA      string  `json:"participant_a"`
	ParticipantB      string  `json:"participant_b"`
	CommitmentType    string  `json:"commitment_type" enum:"daily_tasks,focus_time,goal_progress,custom"`
	TargetValue       int     `json:"target_value"`
	CustomDescription string  `json:"custom_description,omitempty"`
	Status            string  `json:"status" enum:"pending_acceptance,active,declined,ended_by_mutual_agreement,ended_unilaterally"`
	StreakCount       int     `json:"streak_count"`
	LongestStreak     int     `json:"longest_streak"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	RespondedAt       *string `json:"responded_at,omitempty" format:"date-time"`
	EndedAt           *string `json:"ended_at,omitempty" format:"date-time"`
	LastEvaluatedDate string  `json:"last_evaluated_date,omitempty"`
}

type LedgerEntryResponse struct {
	ParticipantID string `json:"participant_id"`
	Date          string `json:"date"`
	ProgressValue int    `json:"progress_value"`
	MetTarget     bool   `json:"met_target"`
	RecordedAt    string `json:"recorded_at" format:"date-time"`
}

type UserResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Timezone    string `json:"timezone"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	PactID  string         `json:"pact_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

func toPactResponse(p domain.Pact) PactResponse {
	return PactResponse{
		ID:                p.ID,
		ParticipantA:      p.ParticipantA,
		ParticipantB:      p.ParticipantB,
		CommitmentType:    p.CommitmentType,
		TargetValue:       p.TargetValue,
		CustomDescription: p.CustomDescription,
		Status:            p.Status,
		StreakCount:       p.StreakCount,
		LongestStreak:     p.LongestStreak,
		CreatedAt:         p.CreatedAt,
		RespondedAt:       p.RespondedAt,
		EndedAt:           p.EndedAt,
		LastEvaluatedDate: p.LastEvaluatedDate,
	}
}

func toLedgerResponse(entries []domain.LedgerEntry) []LedgerEntryResponse {
	res := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		res = append(res, LedgerEntryResponse{
			ParticipantID: e.ParticipantID,
			Date:          e.Date,
			ProgressValue: e.ProgressValue,
			MetTarget:     e.MetTarget,
			RecordedAt:    e.RecordedAt,
		})
	}
	return res
}

func toUserResponse(u domain.UserProfile) UserResponse {
	return UserResponse{ID: u.ID, DisplayName: u.DisplayName, Timezone: u.Timezone, CreatedAt: u.CreatedAt}
}
