package learner

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradegate/backend/internal/regime"
)

// Lesson is one piece of learned guidance, tagged with the regime that was
// active when it was learned. Guidance from one regime must never inform a
// cycle running in a different regime.
type Lesson struct {
	ID        string       `json:"id"`
	Regime    regime.Label `json:"regime"`
	Text      string       `json:"text"`
	LearnedAt time.Time    `json:"learned_at"`
}

// LessonStore keeps a bounded set of lessons, oldest evicted first.
type LessonStore struct {
	mu         sync.Mutex
	lessons    []Lesson
	maxLessons int
}

// NewLessonStore creates a store holding at most maxLessons entries.
func NewLessonStore(maxLessons int) *LessonStore {
	if maxLessons < 1 {
		maxLessons = 100
	}
	return &LessonStore{maxLessons: maxLessons}
}

// Add records a lesson under the given regime tag.
func (s *LessonStore) Add(label regime.Label, text string, learnedAt time.Time) Lesson {
	lesson := Lesson{
		ID:        uuid.NewString(),
		Regime:    label,
		Text:      text,
		LearnedAt: learnedAt.UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons = append(s.lessons, lesson)
	if len(s.lessons) > s.maxLessons {
		s.lessons = s.lessons[len(s.lessons)-s.maxLessons:]
	}
	return lesson
}

// ForRegime returns only the lessons learned under exactly the given
// regime, newest first. There is deliberately no "all lessons" retrieval
// path for cycle logic, the strict filter is the isolation boundary.
func (s *LessonStore) ForRegime(label regime.Label) []Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Lesson
	for i := len(s.lessons) - 1; i >= 0; i-- {
		if s.lessons[i].Regime == label {
			out = append(out, s.lessons[i])
		}
	}
	return out
}

// Len reports the total stored lesson count (all regimes). Inspection only.
func (s *LessonStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lessons)
}
