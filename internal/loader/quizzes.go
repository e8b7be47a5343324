package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mathgamified/internal/docstore"
	"mathgamified/internal/events"
)

const quizzesCollection = "teacherQuizzes"

// ValidationError reports a quiz that fails the editor's rules. The text is
// shown to the teacher as-is.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// Question is a single multiple-choice item.
type Question struct {
	ID                 int      `json:"id"`
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Difficulty         string   `json:"difficulty"`
}

// Quiz is a stored quiz owned by a teacher.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Grade       int        `json:"grade"`
	Term        int        `json:"term"`
	Level       int        `json:"level"`
	Questions   []Question `json:"questions"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// QuizInput is the editable portion of a quiz.
type QuizInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Grade       int        `json:"grade"`
	Term        int        `json:"term"`
	Level       int        `json:"level"`
	Questions   []Question `json:"questions"`
}

// Validate enforces the editor rules before any write.
func (in QuizInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return ValidationError("Quiz title is required")
	}
	if len(in.Questions) == 0 {
		return ValidationError("At least one question is required")
	}
	for i, q := range in.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return ValidationError(fmt.Sprintf("Question %d: Text is required", i+1))
		}
		seen := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				return ValidationError(fmt.Sprintf("Question %d: All options are required", i+1))
			}
			if _, dup := seen[opt]; dup {
				return ValidationError(fmt.Sprintf("Question %d: Options must be unique", i+1))
			}
			seen[opt] = struct{}{}
		}
		if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
			return ValidationError(fmt.Sprintf("Question %d: Correct answer is out of range", i+1))
		}
	}
	return nil
}

// Quizzes manages a teacher's quiz library.
type Quizzes struct {
	docs   docstore.Store
	events *events.Publisher
	logger *slog.Logger
}

func NewQuizzes(docs docstore.Store, pub *events.Publisher, logger *slog.Logger) *Quizzes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Quizzes{docs: docs, events: pub, logger: logger}
}

// List returns the teacher's quizzes, newest first. When the backend rejects
// the filtered and ordered query for lack of an index, List falls back once
// to fetching the whole collection and filtering in memory.
func (l *Quizzes) List(ctx context.Context, uid string) ([]Quiz, error) {
	q := docstore.Query{
		FilterField: "createdBy",
		FilterValue: uid,
		OrderBy:     "createdAt",
		Descending:  true,
	}
	docs, err := l.docs.Get(ctx, quizzesCollection, q)
	if errors.Is(err, docstore.ErrIndexRequired) {
		l.logger.Warn("quiz index unavailable, filtering in memory", "uid", uid)
		docs, err = l.docs.Get(ctx, quizzesCollection, docstore.Query{})
		if err == nil {
			docs = docstore.Apply(docs, q)
		}
	}
	if err != nil {
		return nil, err
	}
	quizzes := make([]Quiz, 0, len(docs))
	for _, doc := range docs {
		quizzes = append(quizzes, toQuiz(doc))
	}
	return quizzes, nil
}

// Get fetches one quiz owned by uid.
func (l *Quizzes) Get(ctx context.Context, uid, id string) (Quiz, error) {
	doc, err := l.docs.GetDoc(ctx, quizzesCollection, id)
	if err != nil {
		return Quiz{}, err
	}
	if doc.String("createdBy") != uid {
		return Quiz{}, docstore.ErrNotFound
	}
	return toQuiz(doc), nil
}

// Create validates and stores a new quiz for uid.
func (l *Quizzes) Create(ctx context.Context, uid string, in QuizInput) (Quiz, error) {
	if err := in.Validate(); err != nil {
		return Quiz{}, err
	}
	now := time.Now().UTC()
	id, err := l.docs.Add(ctx, quizzesCollection, quizFields(in, uid, now, now))
	if err != nil {
		return Quiz{}, err
	}
	quiz := fromInput(id, uid, in, now, now)
	l.events.Publish(ctx, events.TypeQuizCreated, uid, map[string]any{"quizId": id, "title": quiz.Title})
	return quiz, nil
}

// Update validates and rewrites an existing quiz owned by uid.
func (l *Quizzes) Update(ctx context.Context, uid, id string, in QuizInput) (Quiz, error) {
	if err := in.Validate(); err != nil {
		return Quiz{}, err
	}
	existing, err := l.Get(ctx, uid, id)
	if err != nil {
		return Quiz{}, err
	}
	now := time.Now().UTC()
	if err := l.docs.Update(ctx, quizzesCollection, id, quizFields(in, uid, existing.CreatedAt, now)); err != nil {
		return Quiz{}, err
	}
	quiz := fromInput(id, uid, in, existing.CreatedAt, now)
	l.events.Publish(ctx, events.TypeQuizUpdated, uid, map[string]any{"quizId": id, "title": quiz.Title})
	return quiz, nil
}

// Delete removes a quiz owned by uid.
func (l *Quizzes) Delete(ctx context.Context, uid, id string) error {
	if _, err := l.Get(ctx, uid, id); err != nil {
		return err
	}
	if err := l.docs.Delete(ctx, quizzesCollection, id); err != nil {
		return err
	}
	l.events.Publish(ctx, events.TypeQuizDeleted, uid, map[string]any{"quizId": id})
	return nil
}

// FilterQuizzes narrows an already-loaded list by free-text search and
// question difficulty. Search matches title and description,
// case-insensitively.
func FilterQuizzes(quizzes []Quiz, search, difficulty string) []Quiz {
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		if search != "" &&
			!strings.Contains(strings.ToLower(q.Title), search) &&
			!strings.Contains(strings.ToLower(q.Description), search) {
			continue
		}
		if difficulty != "" && difficulty != "all" && !hasDifficulty(q, difficulty) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func hasDifficulty(q Quiz, difficulty string) bool {
	for _, question := range q.Questions {
		if strings.EqualFold(question.Difficulty, difficulty) {
			return true
		}
	}
	return false
}

func quizFields(in QuizInput, uid string, createdAt, updatedAt time.Time) map[string]any {
	return map[string]any{
		"title":       strings.TrimSpace(in.Title),
		"description": strings.TrimSpace(in.Description),
		"grade":       in.Grade,
		"term":        in.Term,
		"level":       in.Level,
		"questions":   questionFields(in.Questions),
		"createdBy":   uid,
		"createdAt":   createdAt.Format(time.RFC3339Nano),
		"updatedAt":   updatedAt.Format(time.RFC3339Nano),
	}
}

func questionFields(questions []Question) []any {
	out := make([]any, 0, len(questions))
	for _, q := range questions {
		opts := make([]any, 0, len(q.Options))
		for _, o := range q.Options {
			opts = append(opts, o)
		}
		out = append(out, map[string]any{
			"id":                 q.ID,
			"question":           q.Question,
			"options":            opts,
			"correctAnswerIndex": q.CorrectAnswerIndex,
			"difficulty":         q.Difficulty,
		})
	}
	return out
}

func fromInput(id, uid string, in QuizInput, createdAt, updatedAt time.Time) Quiz {
	return Quiz{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Grade:       in.Grade,
		Term:        in.Term,
		Level:       in.Level,
		Questions:   in.Questions,
		CreatedBy:   uid,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

func toQuiz(doc docstore.Document) Quiz {
	quiz := Quiz{
		ID:          doc.ID,
		Title:       doc.String("title"),
		Description: doc.String("description"),
		Grade:       doc.Int("grade"),
		Term:        doc.Int("term"),
		Level:       doc.Int("level"),
		CreatedBy:   doc.String("createdBy"),
		CreatedAt:   doc.Time("createdAt"),
		UpdatedAt:   doc.Time("updatedAt"),
	}
	if raw, ok := doc.Fields["questions"]; ok {
		// Questions arrive as generic JSON values; a round trip through
		// encoding/json is the simplest faithful decode.
		if b, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(b, &quiz.Questions)
		}
	}
	return quiz
}
