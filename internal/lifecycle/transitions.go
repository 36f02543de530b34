package lifecycle

import "github.com/KITA-DS12/hackathon-mentor-bot/internal/models"

// Transitions maps each question status to the statuses it may move to.
// Completed is terminal.
var Transitions = map[string][]string{
	models.StatusWaiting:    {models.StatusInProgress, models.StatusCompleted},
	models.StatusInProgress: {models.StatusPaused, models.StatusCompleted, models.StatusWaiting},
	models.StatusPaused:     {models.StatusInProgress, models.StatusCompleted, models.StatusWaiting},
	models.StatusCompleted:  {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to string) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to `to`, in a stable order.
func sourcesOf(to string) []string {
	var from []string
	for _, s := range []string{models.StatusWaiting, models.StatusInProgress, models.StatusPaused, models.StatusCompleted} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// IsAssigned reports whether actorID is in q's assignment set.
func IsAssigned(q *models.Question, actorID string) bool {
	if q == nil {
		return false
	}
	return q.HasMentor(actorID)
}
