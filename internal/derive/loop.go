package derive

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"sheratan/internal/domain"
)

// MaxDisplayIteration caps the iteration counter shown to operators.
const MaxDisplayIteration = 10

func DisplayIteration(iteration int) int {
	if iteration > MaxDisplayIteration {
		return MaxDisplayIteration
	}
	return iteration
}

// SelfLoopJobs returns the mission's jobs that carry a loop state.
func SelfLoopJobs(missionID string, tasks []domain.Task, jobs []domain.Job) []domain.Job {
	out := []domain.Job{}
	for _, j := range MissionJobs(missionID, tasks, jobs) {
		if _, ok := j.LoopState(); ok {
			out = append(out, j)
		}
	}
	return out
}

// LatestLoopState returns the loop state with the highest iteration among
// done jobs, independent of job order.
func LatestLoopState(jobs []domain.Job) (domain.LoopState, bool) {
	j, ok := LatestLoopJob(jobs)
	if !ok {
		return domain.LoopState{}, false
	}
	return j.LoopState()
}

// LatestLoopJob returns the done self-loop job holding the latest state.
func LatestLoopJob(jobs []domain.Job) (domain.Job, bool) {
	var (
		best  domain.Job
		iter  int
		found bool
	)
	for _, j := range jobs {
		if j.Status != domain.JobDone {
			continue
		}
		ls, ok := j.LoopState()
		if !ok {
			continue
		}
		if !found || ls.Iteration > iter {
			best, iter, found = j, ls.Iteration, true
		}
	}
	return best, found
}

// NextLoopState carries questions and constraints into the next iteration.
func NextLoopState(prev domain.LoopState, historySummary string) domain.LoopState {
	iter := prev.Iteration
	if iter < 1 {
		iter = 1
	}
	return domain.LoopState{
		Iteration:      iter + 1,
		HistorySummary: historySummary,
		OpenQuestions:  append([]string{}, prev.OpenQuestions...),
		Constraints:    append([]string{}, prev.Constraints...),
	}
}

var sectionLabels = []string{"A)", "B)", "C)", "D)"}

// ParseSections splits a result text at the labels A) B) C) D). Each section
// runs from its label to the next label or the end of the text. ok is false
// when no label is present; it is never an error.
func ParseSections(text string) (domain.SelfLoopSections, bool) {
	type mark struct {
		label int
		start int
		end   int
	}
	var marks []mark
	for i, label := range sectionLabels {
		if pos := labelIndex(text, label); pos >= 0 {
			marks = append(marks, mark{label: i, start: pos, end: pos + len(label)})
		}
	}
	if len(marks) == 0 {
		return domain.SelfLoopSections{}, false
	}
	sort.Slice(marks, func(a, b int) bool { return marks[a].start < marks[b].start })
	var parts [4]string
	for i, m := range marks {
		stop := len(text)
		if i+1 < len(marks) {
			stop = marks[i+1].start
		}
		parts[m.label] = strings.TrimSpace(text[m.end:stop])
	}
	return domain.SelfLoopSections{A: parts[0], B: parts[1], C: parts[2], D: parts[3]}, true
}

// labelIndex finds label at the start of the text or after a non-alphanumeric
// rune, so "DATA)" does not count as a D label.
func labelIndex(text, label string) int {
	from := 0
	for from <= len(text) {
		idx := strings.Index(text[from:], label)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		if pos == 0 {
			return pos
		}
		prev, _ := utf8.DecodeLastRuneInString(text[:pos])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return pos
		}
		from = pos + len(label)
	}
	return -1
}
