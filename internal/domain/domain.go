package domain

// Pact statuses. A broken streak is not a resting status: it is reported
// through the streak.broken event while the pact stays active.
const (
	StatusPendingAcceptance = "pending_acceptance"
	StatusActive            = "active"
	StatusDeclined          = "declined"
	StatusEndedMutually     = "ended_by_mutual_agreement"
	StatusEndedUnilaterally = "ended_unilaterally"
)

// Terminal reports whether a pact status accepts no further writes.
func Terminal(status string) bool {
	switch status {
	case StatusDeclined, StatusEndedMutually, StatusEndedUnilaterally:
		return true
	}
	return false
}

// Pact is a bilateral daily-commitment agreement. ParticipantA is always
// the initiator, so the pair order is stable across reads.
type Pact struct {
	ID                string  `json:"id"`
	ParticipantA      string  `json:"participant_a"`
	ParticipantB      string  `json:"participant_b"`
	CommitmentType    string  `json:"commitment_type" enum:"daily_tasks,focus_time,goal_progress,custom"`
	TargetValue       int     `json:"target_value"`
	CustomDescription string  `json:"custom_description,omitempty"`
	Status            string  `json:"status" enum:"pending_acceptance,active,declined,ended_by_mutual_agreement,ended_unilaterally"`
	StreakCount       int     `json:"streak_count"`
	LongestStreak     int     `json:"longest_streak"`
	StrikeCount       int     `json:"strike_count"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	RespondedAt       *string `json:"responded_at,omitempty" format:"date-time"`
	EndedAt           *string `json:"ended_at,omitempty" format:"date-time"`
	// LastEvaluatedDate is the most recent participant-local calendar
	// date (YYYY-MM-DD) the evaluation engine has settled.
	LastEvaluatedDate string `json:"last_evaluated_date,omitempty"`
}

// Participants returns both user ids.
func (p Pact) Participants() [2]string {
	return [2]string{p.ParticipantA, p.ParticipantB}
}

// Other returns the counterpart of the given participant, or "" when the
// user is not part of the pact.
func (p Pact) Other(userID string) string {
	switch userID {
	case p.ParticipantA:
		return p.ParticipantB
	case p.ParticipantB:
		return p.ParticipantA
	}
	return ""
}

// LedgerEntry is the durable record of one participant's progress for one
// pact-local calendar day. At most one row exists per
// (pact_id, participant_id, date); writes are upserts on that key.
type LedgerEntry struct {
	PactID        string `json:"pact_id"`
	ParticipantID string `json:"participant_id"`
	Date          string `json:"date"`
	ProgressValue int    `json:"progress_value"`
	MetTarget     bool   `json:"met_target"`
	RecordedAt    string `json:"recorded_at" format:"date-time"`
}

// UserProfile is a directory entry. Timezone is an IANA zone name and
// defines the user's local day boundary for evaluation.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Timezone    string `json:"timezone"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Friendship links two users in the directory; pacts may only be created
// between friends.
type Friendship struct {
	UserID    string `json:"user_id"`
	FriendID  string `json:"friend_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ProgressReport is one ingested telemetry sample: a user's progress for a
// commitment type on one of their local calendar days. Re-reports replace
// the previous value.
type ProgressReport struct {
	UserID         string `json:"user_id"`
	CommitmentType string `json:"commitment_type"`
	Date           string `json:"date"`
	ProgressValue  int    `json:"progress_value"`
	RecordedAt     string `json:"recorded_at" format:"date-time"`
}

// Event is one append-only audit log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	PactID     string `json:"pact_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Event types emitted by the lifecycle manager and evaluation engine.
const (
	EventPactInvited      = "pact.invited"
	EventPactAccepted     = "pact.accepted"
	EventPactDeclined     = "pact.declined"
	EventPactCancelled    = "pact.cancelled"
	EventPactEnded        = "pact.ended"
	EventStreakAdvanced   = "streak.advanced"
	EventStreakBroken     = "streak.broken"
	EventProgressReported = "progress.reported"
)
