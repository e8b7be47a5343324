package loader

import (
	"context"
	"log/slog"
	"strings"

	"mathgamified/internal/docstore"
)

const usersCollection = "users"

// LeaderboardEntry is one ranked student row.
type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Grade   string `json:"grade"`
	School  string `json:"school"`
	Score   int    `json:"totalScore"`
	Coins   int    `json:"totalCoins"`
}

// Leaderboard ranks students by total score.
type Leaderboard struct {
	docs   docstore.Store
	logger *slog.Logger
}

func NewLeaderboard(docs docstore.Store, logger *slog.Logger) *Leaderboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Leaderboard{docs: docs, logger: logger}
}

// Load returns students ranked by score, optionally scoped to a grade filter
// value like "grade-5". An empty result is a valid no-data state, not an
// error.
func (l *Leaderboard) Load(ctx context.Context, grade string) ([]LeaderboardEntry, error) {
	q := docstore.Query{OrderBy: "totalScore", Descending: true}
	if grade != "" && grade != "all-grades" {
		q.FilterField = "grade"
		q.FilterValue = strings.Replace(grade, "grade-", "Grade ", 1)
	}
	docs, err := l.docs.Get(ctx, usersCollection, q)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(docs))
	for i, doc := range docs {
		entries = append(entries, LeaderboardEntry{
			Rank:    i + 1,
			Name:    fallback(doc.String("name"), "Unknown"),
			Surname: doc.String("surname"),
			Grade:   doc.String("grade"),
			School:  doc.String("school"),
			Score:   doc.Int("totalScore"),
			Coins:   doc.Int("totalCoins"),
		})
	}
	return entries, nil
}
