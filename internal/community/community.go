package community

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quadpoint/toolengine/internal/docstore"
)

// Event is one upcoming happening on a community surface.
type Event struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	StartsAt int64  `json:"startsAt"`
	Location string `json:"location,omitempty"`
}

// Member is one active roster entry.
type Member struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// Context is the enclosing-surface context handed to handlers when a
// deployment targets a space.
type Context struct {
	SpaceID string
	Events  []Event
	Members []Member
}

// Fetcher loads community context for a space.
type Fetcher interface {
	Fetch(ctx context.Context, spaceID, userID string) (*Context, error)
}

// StoreFetcher reads events and the member roster from the document
// store.
type StoreFetcher struct {
	store      docstore.Store
	now        func() time.Time
	maxEvents  int
	maxMembers int
}

// Option configures a StoreFetcher.
type Option func(*StoreFetcher)

// WithEventLimit caps how many upcoming events Fetch returns.
func WithEventLimit(n int) Option {
	return func(f *StoreFetcher) { f.maxEvents = n }
}

// WithMemberLimit caps how many roster entries Fetch returns.
func WithMemberLimit(n int) Option {
	return func(f *StoreFetcher) { f.maxMembers = n }
}

// WithClock overrides the wall clock used to decide which events are
// upcoming. Tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(f *StoreFetcher) { f.now = now }
}

// NewStoreFetcher returns a Fetcher over the given store with default
// caps of 10 events and 50 members.
func NewStoreFetcher(store docstore.Store, opts ...Option) *StoreFetcher {
	f := &StoreFetcher{
		store:      store,
		now:        time.Now,
		maxEvents:  10,
		maxMembers: 50,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher. Events are returned soonest first, past
// events excluded; the roster carries active members only.
func (f *StoreFetcher) Fetch(ctx context.Context, spaceID, userID string) (*Context, error) {
	out := &Context{SpaceID: spaceID}

	events, err := f.store.List(ctx, "spaces/"+spaceID+"/events", docstore.ListOptions{OrderBy: "startsAt"})
	if err != nil {
		return nil, fmt.Errorf("listing events for space %s: %w", spaceID, err)
	}
	cutoff := f.now().UnixMilli()
	for _, e := range events {
		if len(out.Events) >= f.maxEvents {
			break
		}
		var ev Event
		if decodeErr := decodeEntry(e.Doc, &ev); decodeErr != nil {
			return nil, fmt.Errorf("decoding event %s: %w", e.Key, decodeErr)
		}
		if ev.ID == "" {
			ev.ID = e.Key
		}
		if ev.StartsAt < cutoff {
			continue
		}
		out.Events = append(out.Events, ev)
	}

	members, err := f.store.List(ctx, "spaces/"+spaceID+"/members", docstore.ListOptions{Limit: f.maxMembers})
	if err != nil {
		return nil, fmt.Errorf("listing members for space %s: %w", spaceID, err)
	}
	for _, m := range members {
		if m.Doc.String("status") != "active" {
			continue
		}
		out.Members = append(out.Members, Member{
			UserID: m.Key,
			Role:   m.Doc.String("role"),
			Status: "active",
		})
	}

	return out, nil
}

func decodeEntry(doc docstore.Doc, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
