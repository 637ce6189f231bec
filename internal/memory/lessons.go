package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mt5-session-bot/internal/models"
)

// RecentQuery selects lessons for decision context.
type RecentQuery struct {
	Limit        int      // <=0 means no cap
	MinRelevance int      // lessons below this are excluded
	Type         string   // "" matches any type
	Tags         []string // lesson must carry at least one of these
}

// UpdateFields names the mutable lesson fields. Nil pointers leave the field
// untouched; ID, Date, Pair, Type and CreatedAt are immutable after creation.
type UpdateFields struct {
	Context   *string
	Rule      *string
	Result    *string
	Relevance *int
	Tags      *[]string
}

// AddLesson validates, assigns the next sequential id and persists. The
// returned id looks like "L012". Validation failures reject the call before
// any mutation.
func (s *Store) AddLesson(pair, lessonType, context, rule, result string, relevance int, tags []string) (string, error) {
	if strings.TrimSpace(pair) == "" {
		return "", &models.ValidationError{Field: "pair", Reason: "must not be empty"}
	}
	if strings.TrimSpace(lessonType) == "" {
		return "", &models.ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(context) == "" {
		return "", &models.ValidationError{Field: "context", Reason: "must not be empty"}
	}
	if strings.TrimSpace(rule) == "" {
		return "", &models.ValidationError{Field: "rule", Reason: "must not be empty"}
	}
	if strings.TrimSpace(result) == "" {
		return "", &models.ValidationError{Field: "result", Reason: "must not be empty"}
	}
	if relevance < 1 || relevance > 5 {
		return "", &models.ValidationError{Field: "relevance", Reason: fmt.Sprintf("%d outside [1,5]", relevance)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy the tags so a caller mutating its slice afterwards cannot reach
	// into committed state.
	if tags != nil {
		tags = append([]string(nil), tags...)
	}

	next := s.snapshot()
	next.LastLessonID++
	now := time.Now()
	lesson := models.Lesson{
		ID:        fmt.Sprintf("L%03d", next.LastLessonID),
		Date:      now.Format("2006-01-02"),
		Pair:      strings.ToUpper(strings.TrimSpace(pair)),
		Type:      lessonType,
		Context:   context,
		Rule:      rule,
		Result:    result,
		Relevance: relevance,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	next.Lessons = append(next.Lessons, lesson)

	if err := s.commit(next); err != nil {
		return "", err
	}
	return lesson.ID, nil
}

// GetRecentLessons returns matching lessons ordered by date descending; ties
// break toward the more recently added lesson. The result is an independent
// copy.
func (s *Store) GetRecentLessons(q RecentQuery) []models.Lesson {
	s.mu.RLock()
	snap := s.snapshot()
	s.mu.RUnlock()

	// Walk newest-insertion-first so the stable sort resolves date ties in
	// favor of the later addition.
	matched := make([]models.Lesson, 0, len(snap.Lessons))
	for i := len(snap.Lessons) - 1; i >= 0; i-- {
		l := snap.Lessons[i]
		if l.Relevance < q.MinRelevance {
			continue
		}
		if q.Type != "" && l.Type != q.Type {
			continue
		}
		if !hasAnyTag(l.Tags, q.Tags) {
			continue
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Date > matched[j].Date
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

// hasAnyTag reports whether the lesson carries at least one requested tag.
// An empty request matches everything.
func hasAnyTag(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// UpdateLesson applies the given fields to an existing lesson. It returns
// false (no error) when the id does not exist.
func (s *Store) UpdateLesson(id string, fields UpdateFields) (bool, error) {
	if fields.Relevance != nil && (*fields.Relevance < 1 || *fields.Relevance > 5) {
		return false, &models.ValidationError{Field: "relevance", Reason: fmt.Sprintf("%d outside [1,5]", *fields.Relevance)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot()
	for i := range next.Lessons {
		if next.Lessons[i].ID != id {
			continue
		}
		l := &next.Lessons[i]
		if fields.Context != nil {
			l.Context = *fields.Context
		}
		if fields.Rule != nil {
			l.Rule = *fields.Rule
		}
		if fields.Result != nil {
			l.Result = *fields.Result
		}
		if fields.Relevance != nil {
			l.Relevance = *fields.Relevance
		}
		if fields.Tags != nil {
			l.Tags = append([]string(nil), *fields.Tags...)
		}
		l.UpdatedAt = time.Now()
		if err := s.commit(next); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// DeleteLesson removes a lesson by id, returning false when it does not
// exist. The id counter is never reused.
func (s *Store) DeleteLesson(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot()
	for i := range next.Lessons {
		if next.Lessons[i].ID == id {
			next.Lessons = append(next.Lessons[:i], next.Lessons[i+1:]...)
			if err := s.commit(next); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// SearchLessons does a case-insensitive substring match. With no field
// selector it searches context, rule, result and tags; otherwise only the
// named fields (unknown names are ignored).
func (s *Store) SearchLessons(query string, fields ...string) []models.Lesson {
	needle := strings.ToLower(query)

	selected := map[string]bool{"context": true, "rule": true, "result": true, "tags": true}
	if len(fields) > 0 {
		selected = make(map[string]bool, len(fields))
		for _, f := range fields {
			selected[strings.ToLower(f)] = true
		}
	}

	s.mu.RLock()
	snap := s.snapshot()
	s.mu.RUnlock()

	var out []models.Lesson
	for _, l := range snap.Lessons {
		if selected["context"] && strings.Contains(strings.ToLower(l.Context), needle) ||
			selected["rule"] && strings.Contains(strings.ToLower(l.Rule), needle) ||
			selected["result"] && strings.Contains(strings.ToLower(l.Result), needle) {
			out = append(out, l)
			continue
		}
		if !selected["tags"] {
			continue
		}
		for _, t := range l.Tags {
			if strings.Contains(strings.ToLower(t), needle) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// GetLesson returns a copy of the lesson with the given id.
func (s *Store) GetLesson(id string) (models.Lesson, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.data.Lessons {
		if l.ID == id {
			cp := l
			if l.Tags != nil {
				cp.Tags = append([]string(nil), l.Tags...)
			}
			return cp, true
		}
	}
	return models.Lesson{}, false
}

// FormatForAnalysis renders lessons as the compact one-line-per-lesson block
// that gets embedded in the decision prompt.
func FormatForAnalysis(lessons []models.Lesson) string {
	if len(lessons) == 0 {
		return "MEMORY: no recorded lessons yet."
	}
	var b strings.Builder
	b.WriteString("MEMORY:\n")
	for _, l := range lessons {
		fmt.Fprintf(&b, "%s: %s-%s->%s [%d/5]\n", l.ID, l.Pair, l.Context, l.Result, l.Relevance)
	}
	return strings.TrimRight(b.String(), "\n")
}
