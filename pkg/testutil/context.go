package testutil

import (
	"context"
	"time"

	"validity/pkg/requestcontext"
)

// Day parses a YYYY-MM-DD date at UTC midnight and panics on bad input.
func Day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

// At returns a background context whose request time is 09:00 UTC on date.
func At(date string) context.Context {
	return requestcontext.WithTime(context.Background(), Day(date).Add(9*time.Hour))
}
