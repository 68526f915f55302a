package service

// HistoryStore keeps the attempts that ended, most recent first.
type HistoryStore interface {
	// History returns the stored attempts without their tasks.
	History() []AttemptStatus
	// Attempt returns one stored attempt including its tasks.
	Attempt(id string) (AttemptStatus, bool)
	// Save records an attempt that ended.
	Save(AttemptStatus) error
}
