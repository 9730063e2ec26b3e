package catalog

// Status is a student's standing in a discipline.
type Status string

// Student discipline statuses.
const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in_progress"
	StatusNotTaken   Status = "not_taken"
)

// Student carries the discipline id sets the status overlay reads.
type Student struct {
	ID                   string   `json:"id"`
	CompletedDisciplines []string `json:"completed_disciplines"`
	CurrentDisciplines   []string `json:"current_disciplines"`
}

// StatusOf resolves the overlay status; completed wins over in progress.
func (s Student) StatusOf(disciplineID string) Status {
	if contains(s.CompletedDisciplines, disciplineID) {
		return StatusCompleted
	}
	if contains(s.CurrentDisciplines, disciplineID) {
		return StatusInProgress
	}
	return StatusNotTaken
}

// DisciplineStatus is a catalog record annotated with a student's status.
type DisciplineStatus struct {
	Discipline
	Status Status `json:"status"`
}

// Overlay annotates every discipline with the student's status.
func Overlay(disciplines []Discipline, student Student) []DisciplineStatus {
	out := make([]DisciplineStatus, 0, len(disciplines))
	for _, d := range disciplines {
		out = append(out, DisciplineStatus{Discipline: d, Status: student.StatusOf(d.ID)})
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
