package testutil

import (
	"context"
	"sync"

	"guidesync/internal/guide"
)

// StubFetcher is a guide.Fetcher double serving canned trips and
// manifests.
type StubFetcher struct {
	mu        sync.Mutex
	Trips     []*guide.Trip
	Manifests map[string][]*guide.Participant
	Err       error
}

func NewStubFetcher() *StubFetcher {
	return &StubFetcher{
		Manifests: make(map[string][]*guide.Participant),
	}
}

func (f *StubFetcher) FetchTrips(_ context.Context, from, to string) ([]*guide.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []*guide.Trip
	for _, t := range f.Trips {
		if t.Date >= from && t.Date <= to {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *StubFetcher) FetchManifest(_ context.Context, tripID string) ([]*guide.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Manifests[tripID], nil
}
