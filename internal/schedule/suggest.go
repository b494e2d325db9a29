package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"braindump/internal/domain"
)

const (
	// DefaultSuggestionCount bounds how many candidates a caller receives.
	DefaultSuggestionCount = 5
	// DefaultDurationMinutes is the fallback when neither the task nor its
	// type rule carries an estimate.
	DefaultDurationMinutes = 30

	maxTimeOfDayPoints  = 40
	maxUrgencyPoints    = 25
	maxContiguityPoints = 20
	maxBufferPoints     = 15
)

// SuggestContext carries everything the scorer needs beyond the availability
// window itself.
type SuggestContext struct {
	Task      domain.Task
	Rule      TaskTypeRule
	Buffers   Buffers
	Events    []domain.CalendarEvent
	Protected []ProtectedWindow
	Now       time.Time
}

type freeBlock struct {
	start time.Time
	end   time.Time
}

func (b freeBlock) minutes() int {
	return int(b.end.Sub(b.start) / time.Minute)
}

// freeBlocks collapses contiguous available slots into blocks with a single
// forward scan; any gap or availability flip closes the running block.
func freeBlocks(w domain.AvailabilityWindow) []freeBlock {
	var blocks []freeBlock
	var cur *freeBlock
	for _, slot := range w.Slots {
		if slot.Available && cur != nil && slot.Start.Equal(cur.end) {
			cur.end = slot.End
			continue
		}
		if cur != nil {
			blocks = append(blocks, *cur)
			cur = nil
		}
		if slot.Available {
			cur = &freeBlock{start: slot.Start, end: slot.End}
		}
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}
	return blocks
}

// TaskDurationMinutes resolves the effective duration for a task: its own
// estimate, then the task-type default, then 30 minutes.
func TaskDurationMinutes(task domain.Task, rule TaskTypeRule) int {
	if task.TimeEstimateMinutes != nil && *task.TimeEstimateMinutes > 0 {
		return *task.TimeEstimateMinutes
	}
	if rule.DefaultDurationMinutes > 0 {
		return rule.DefaultDurationMinutes
	}
	return DefaultDurationMinutes
}

// GenerateSuggestions enumerates candidate slots for the task over the merged
// availability window, scores them deterministically and returns at most count
// suggestions sorted by score descending, earliest start on ties. An empty
// result means no free block of any length exists; blocks shorter than the
// requested duration are still offered, scored lower and flagged.
func GenerateSuggestions(sctx SuggestContext, availability domain.AvailabilityWindow, count int) []domain.SchedulingSuggestion {
	if count <= 0 {
		count = DefaultSuggestionCount
	}
	duration := TaskDurationMinutes(sctx.Task, sctx.Rule)
	span := sctx.Buffers.BeforeMinutes + duration + sctx.Buffers.AfterMinutes

	blocks := freeBlocks(availability)
	if len(blocks) == 0 {
		return nil
	}

	var suggestions []domain.SchedulingSuggestion
	for _, block := range blocks {
		if block.minutes() < span {
			continue
		}
		step := time.Duration(DefaultSlotMinutes) * time.Minute
		for offset := block.start; !offset.Add(time.Duration(span) * time.Minute).After(block.end); offset = offset.Add(step) {
			slot := domain.TimeSlot{
				Start:     offset.Add(time.Duration(sctx.Buffers.BeforeMinutes) * time.Minute),
				End:       offset.Add(time.Duration(sctx.Buffers.BeforeMinutes+duration) * time.Minute),
				Available: true,
			}
			suggestions = append(suggestions, scoreCandidate(sctx, slot, block, duration, false))
		}
	}

	// Nothing fits the full buffered span: offer what each block can hold
	// rather than silently returning nothing. A block longer than the task
	// itself is clipped to the task duration; only the buffers are lost.
	if len(suggestions) == 0 {
		for _, block := range blocks {
			end := block.end
			if block.minutes() > duration {
				end = block.start.Add(time.Duration(duration) * time.Minute)
			}
			slot := domain.TimeSlot{Start: block.start, End: end, Available: true}
			suggestions = append(suggestions, scoreCandidate(sctx, slot, block, duration, true))
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].Slot.Start.Before(suggestions[j].Slot.Start)
	})
	if len(suggestions) > count {
		suggestions = suggestions[:count]
	}
	return suggestions
}

func scoreCandidate(sctx SuggestContext, slot domain.TimeSlot, block freeBlock, duration int, partial bool) domain.SchedulingSuggestion {
	var factors []domain.ScoringFactor

	factors = append(factors, timeOfDayFactor(sctx.Rule, sctx.Task.TaskType, slot))
	factors = append(factors, urgencyFactor(sctx.Task.Priority, sctx.Now, slot))
	factors = append(factors, contiguityFactor(block, duration))
	factors = append(factors, bufferFactor(sctx.Buffers, partial))

	score := 0
	for _, f := range factors {
		score += f.Points
	}
	if partial {
		offered := slot.Minutes()
		reason := fmt.Sprintf("task fits but the %dm buffer does not", sctx.Buffers.BeforeMinutes+sctx.Buffers.AfterMinutes)
		if offered < duration {
			// Scale down in proportion to the shortfall.
			if duration > 0 {
				score = score * offered / duration
			}
			reason = fmt.Sprintf("free block is %dm, shorter than the requested %dm", offered, duration)
		}
		factors = append(factors, domain.ScoringFactor{
			Name:   "partial_fit",
			Reason: reason,
		})
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	reasons := make([]string, 0, len(factors))
	for _, f := range factors {
		reasons = append(reasons, f.Reason)
	}

	return domain.SchedulingSuggestion{
		Slot:      slot,
		Score:     score,
		Reasoning: strings.Join(reasons, "; "),
		Factors:   factors,
		Conflicts: BuildConflicts(slot, sctx.Events, sctx.Protected, sctx.Rule),
	}
}

func timeOfDayFactor(rule TaskTypeRule, taskType string, slot domain.TimeSlot) domain.ScoringFactor {
	f := domain.ScoringFactor{Name: "time_of_day", Max: maxTimeOfDayPoints}
	if rule.PreferredStart == "" || rule.PreferredEnd == "" {
		f.Points = maxTimeOfDayPoints / 2
		f.Reason = fmt.Sprintf("no preferred hours configured for %q tasks", taskType)
		return f
	}
	prefStart, err1 := CombineDateAndTime(slot.Start, rule.PreferredStart)
	prefEnd, err2 := CombineDateAndTime(slot.Start, rule.PreferredEnd)
	if err1 != nil || err2 != nil || !prefEnd.After(prefStart) {
		f.Points = maxTimeOfDayPoints / 2
		f.Reason = fmt.Sprintf("preferred hours for %q tasks are invalid, ignored", taskType)
		return f
	}
	overlap := overlapMinutes(slot.Start, slot.End, prefStart, prefEnd)
	f.Points = maxTimeOfDayPoints * overlap / slot.Minutes()
	switch {
	case overlap == slot.Minutes():
		f.Reason = fmt.Sprintf("fully inside preferred %s hours (%s-%s)", TimeOfDayLabel(prefStart), rule.PreferredStart, rule.PreferredEnd)
	case overlap > 0:
		f.Reason = fmt.Sprintf("partly inside preferred hours %s-%s", rule.PreferredStart, rule.PreferredEnd)
	default:
		f.Reason = fmt.Sprintf("outside preferred hours %s-%s", rule.PreferredStart, rule.PreferredEnd)
	}
	return f
}

func urgencyFactor(priority domain.Priority, now time.Time, slot domain.TimeSlot) domain.ScoringFactor {
	f := domain.ScoringFactor{Name: "urgency", Max: maxUrgencyPoints}
	if priority != domain.PriorityHigh {
		f.Points = maxUrgencyPoints / 2
		f.Reason = fmt.Sprintf("%s priority does not favor the earliest slot", priority)
		return f
	}
	hoursUntil := int(slot.Start.Sub(now) / time.Hour)
	if hoursUntil < 0 {
		hoursUntil = 0
	}
	points := maxUrgencyPoints - hoursUntil/3
	if points < 0 {
		points = 0
	}
	f.Points = points
	f.Reason = fmt.Sprintf("high priority, starts %dh from now", hoursUntil)
	return f
}

func contiguityFactor(block freeBlock, duration int) domain.ScoringFactor {
	f := domain.ScoringFactor{Name: "contiguity", Max: maxContiguityPoints}
	blockMin := block.minutes()
	switch {
	case blockMin >= 2*duration:
		f.Points = maxContiguityPoints
		f.Reason = fmt.Sprintf("sits in a %dm block with room to overrun", blockMin)
	case blockMin*2 >= 3*duration:
		f.Points = 15
		f.Reason = fmt.Sprintf("sits in a roomy %dm block", blockMin)
	case blockMin > duration:
		f.Points = 12
		f.Reason = fmt.Sprintf("block leaves %dm of slack", blockMin-duration)
	default:
		f.Points = 10
		f.Reason = "exact fit for the requested duration"
	}
	return f
}

func bufferFactor(buffers Buffers, partial bool) domain.ScoringFactor {
	f := domain.ScoringFactor{Name: "buffers", Max: maxBufferPoints}
	total := buffers.BeforeMinutes + buffers.AfterMinutes
	switch {
	case total == 0:
		f.Points = maxBufferPoints
		f.Reason = "no buffers requested"
	case partial:
		f.Points = 0
		f.Reason = fmt.Sprintf("%dm of buffer does not fit in this block", total)
	default:
		f.Points = maxBufferPoints
		f.Reason = fmt.Sprintf("%dm before / %dm after reserved", buffers.BeforeMinutes, buffers.AfterMinutes)
	}
	return f
}

func overlapMinutes(aStart, aEnd, bStart, bEnd time.Time) int {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}
