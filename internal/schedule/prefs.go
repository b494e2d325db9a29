package schedule

import "time"

// WorkingHours is a wall-clock window in "HH:mm" form for one day.
type WorkingHours struct {
	Start string
	End   string
}

// TaskTypeRule carries the per-task-type scheduling preference: the preferred
// wall-clock window and the fallback duration when a task has no estimate.
type TaskTypeRule struct {
	PreferredStart         string
	PreferredEnd           string
	DefaultDurationMinutes int
}

// Buffers is the reserved padding around a scheduled task. Buffer time is part
// of the required span, never independently bookable.
type Buffers struct {
	BeforeMinutes int
	AfterMinutes  int
}

// ProtectedWindow is a concrete never-schedulable interval on a given day,
// already expanded from any recurrence rule.
type ProtectedWindow struct {
	Start time.Time
	End   time.Time
	Label string
}
