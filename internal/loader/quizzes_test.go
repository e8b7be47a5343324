package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"mathgamified/internal/docstore"
	"mathgamified/internal/identity"
)

func validInput() QuizInput {
	return QuizInput{
		Title: "Fractions basics",
		Grade: 5, Term: 1, Level: 2,
		Questions: []Question{{
			ID:                 1,
			Question:           "What is 1/2 + 1/4?",
			Options:            []string{"3/4", "1/4", "2/4", "1"},
			CorrectAnswerIndex: 0,
			Difficulty:         "easy",
		}},
	}
}

func TestQuizValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*QuizInput)
		want   string
	}{
		{"missing title", func(in *QuizInput) { in.Title = "  " }, "Quiz title is required"},
		{"no questions", func(in *QuizInput) { in.Questions = nil }, "At least one question is required"},
		{"blank question", func(in *QuizInput) { in.Questions[0].Question = "" }, "Question 1: Text is required"},
		{"blank option", func(in *QuizInput) { in.Questions[0].Options[2] = " " }, "Question 1: All options are required"},
		{"duplicate options", func(in *QuizInput) { in.Questions[0].Options[1] = "3/4" }, "Question 1: Options must be unique"},
		{"answer out of range", func(in *QuizInput) { in.Questions[0].CorrectAnswerIndex = 4 }, "Question 1: Correct answer is out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			err := in.Validate()
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Error() != tc.want {
				t.Fatalf("message = %q, want %q", verr.Error(), tc.want)
			}
		})
	}
	if err := validInput().Validate(); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
}

func TestQuizCRUD(t *testing.T) {
	docs := docstore.NewMemoryStore()
	quizzes := NewQuizzes(docs, nil, nil)
	ctx := context.Background()

	created, err := quizzes.Create(ctx, "uid-1", validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.CreatedBy != "uid-1" {
		t.Fatalf("created = %+v", created)
	}

	got, err := quizzes.Get(ctx, "uid-1", created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Fractions basics" || len(got.Questions) != 1 {
		t.Fatalf("got = %+v", got)
	}
	if got.Questions[0].Options[0] != "3/4" || got.Questions[0].CorrectAnswerIndex != 0 {
		t.Fatalf("question round trip = %+v", got.Questions[0])
	}

	// Another teacher must not see or touch it.
	if _, err := quizzes.Get(ctx, "uid-2", created.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("foreign Get err = %v", err)
	}
	if err := quizzes.Delete(ctx, "uid-2", created.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("foreign Delete err = %v", err)
	}

	in := validInput()
	in.Title = "Fractions, revised"
	updated, err := quizzes.Update(ctx, "uid-1", created.ID, in)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "Fractions, revised" {
		t.Fatalf("updated = %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("createdAt changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}

	if err := quizzes.Delete(ctx, "uid-1", created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := quizzes.Get(ctx, "uid-1", created.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
}

func TestQuizListFallsBackWithoutIndex(t *testing.T) {
	docs := docstore.NewMemoryStore()
	quizzes := NewQuizzes(docs, nil, nil)
	ctx := context.Background()

	for i, title := range []string{"one", "two"} {
		in := validInput()
		in.Title = title
		if _, err := quizzes.Create(ctx, "uid-1", in); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct createdAt for ordering
	}
	other := validInput()
	other.Title = "not mine"
	if _, err := quizzes.Create(ctx, "uid-2", other); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	docs.RequireIndex(quizzesCollection)

	list, err := quizzes.List(ctx, "uid-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d quizzes, want 2", len(list))
	}
	if list[0].Title != "two" || list[1].Title != "one" {
		t.Fatalf("order = %q, %q", list[0].Title, list[1].Title)
	}
}

func TestFilterQuizzes(t *testing.T) {
	quizzes := []Quiz{
		{Title: "Fractions basics", Questions: []Question{{Difficulty: "easy"}}},
		{Title: "Algebra warmup", Description: "mixed fractions inside", Questions: []Question{{Difficulty: "hard"}}},
		{Title: "Geometry", Questions: []Question{{Difficulty: "medium"}}},
	}

	got := FilterQuizzes(quizzes, "fractions", "")
	if len(got) != 2 {
		t.Fatalf("search got %d, want 2", len(got))
	}
	got = FilterQuizzes(quizzes, "", "hard")
	if len(got) != 1 || got[0].Title != "Algebra warmup" {
		t.Fatalf("difficulty got %+v", got)
	}
	got = FilterQuizzes(quizzes, "fractions", "easy")
	if len(got) != 1 || got[0].Title != "Fractions basics" {
		t.Fatalf("combined got %+v", got)
	}
	if got = FilterQuizzes(quizzes, "", "all"); len(got) != 3 {
		t.Fatalf("all got %d, want 3", len(got))
	}
}

func TestPointsEnsure(t *testing.T) {
	docs := docstore.NewMemoryStore()
	points := NewPoints(docs, nil)
	ctx := context.Background()
	teacher := identity.Identity{UID: "uid-1", Email: "t1@x.com"}

	if err := points.Ensure(ctx, teacher); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	doc, err := docs.GetDoc(ctx, pointsCollection, "uid-1")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if doc.String("name") != "t1" || doc.Int("points") != 0 {
		t.Fatalf("fields = %+v", doc.Fields)
	}

	// A repeat sign-in must not reset an accumulated score.
	if err := docs.Update(ctx, pointsCollection, "uid-1", map[string]any{"points": 42}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := points.Ensure(ctx, teacher); err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	doc, _ = docs.GetDoc(ctx, pointsCollection, "uid-1")
	if doc.Int("points") != 42 {
		t.Fatalf("points reset to %d", doc.Int("points"))
	}
}
