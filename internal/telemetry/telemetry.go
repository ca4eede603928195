// Package telemetry supplies per-user daily progress numbers to the
// evaluation engine. The engine never distinguishes kinds of source
// failure: any error means "not reported yet" and the day stays open
// until the grace deadline.
package telemetry

import (
	"context"
	"errors"

	"pactline/internal/repo"
)

// ErrUnavailable means the source has no answer right now. It covers
// both "no data ingested yet" and transient source failures.
var ErrUnavailable = errors.New("telemetry unavailable")

// Source answers how much progress a user made toward a commitment type
// on one of their local calendar days.
type Source interface {
	DailyProgress(ctx context.Context, userID, commitmentType, date string) (int, error)
}

// Store reads progress from ingested reports. Custom commitments flow
// through the same table: a manual confirmation is a report of 1.
type Store struct {
	Repo repo.Repo
}

func (s Store) DailyProgress(ctx context.Context, userID, commitmentType, date string) (int, error) {
	rep, err := s.Repo.GetProgressReport(ctx, userID, commitmentType, date)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrUnavailable
	}
	if err != nil {
		return 0, err
	}
	return rep.ProgressValue, nil
}

var _ Source = Store{}

// Fixed serves canned values; used by tests and the simulation CLI.
type Fixed map[string]int

// Key builds the lookup key for a Fixed source.
func Key(userID, date string) string { return userID + "|" + date }

func (f Fixed) DailyProgress(_ context.Context, userID, _, date string) (int, error) {
	v, ok := f[Key(userID, date)]
	if !ok {
		return 0, ErrUnavailable
	}
	return v, nil
}
