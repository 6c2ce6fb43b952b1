// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a kind of behavioral event. The set is open: unknown
// types are accepted and ignored during aggregation.
type EventType string

// Known event types with default weights.
const (
	EventLessonCompletion     EventType = "lesson_completion"
	EventLessonStart          EventType = "lesson_start"
	EventJournalEntry         EventType = "journal_entry"
	EventCoachInteraction     EventType = "coach_interaction"
	EventGoalSetting          EventType = "goal_setting"
	EventGoalCompletion       EventType = "goal_completion"
	EventAppSession           EventType = "app_session"
	EventStreakMilestone      EventType = "streak_milestone"
	EventAssessmentCompletion EventType = "assessment_completion"
	EventResourceAccess       EventType = "resource_access"
	EventPeerInteraction      EventType = "peer_interaction"
	EventReminderResponse     EventType = "reminder_response"
)

// EngagementEvent is an immutable behavioral fact recorded for a user.
type EngagementEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Type       EventType         `json:"event_type"`
	OccurredOn Date              `json:"occurred_on"`
	OccurredAt time.Time         `json:"occurred_at"` // ordering within a day; may be zero
	Payload    map[string]string `json:"payload,omitempty"`
}

// CanonicalUserID returns the lower-case hyphenated form of a UUID user
// id. Ids that are not UUIDs are returned unchanged.
func CanonicalUserID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}
