package station

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/stationboard/stationboard/internal/kvstore"
)

// record is the persisted form of a selected station.
type record struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Position int    `json:"position"`
}

// Repository persists the selected-station list in a key-value store, one
// entry per station key. Order is kept through an insertion position.
type Repository struct {
	store kvstore.Store
}

// NewRepository creates a repository over store.
func NewRepository(store kvstore.Store) *Repository {
	return &Repository{store: store}
}

// List returns the selected stations in insertion order.
// An empty slice means nothing has been persisted yet.
func (r *Repository) List(ctx context.Context) ([]Reference, error) {
	records, err := r.records(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]Reference, 0, len(records))
	for _, rec := range records {
		refs = append(refs, Reference{Key: rec.Key, Label: rec.Label})
	}
	return refs, nil
}

// Add appends ref to the list. Adding a key that is already present is a
// no-op and returns false.
func (r *Repository) Add(ctx context.Context, ref Reference) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}

	_, err := r.store.Get(ctx, ref.Key)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, kvstore.ErrNotFound):
		return false, fmt.Errorf("looking up station %s: %w", ref.Key, err)
	}

	records, err := r.records(ctx)
	if err != nil {
		return false, err
	}

	next := 0
	for _, rec := range records {
		if rec.Position >= next {
			next = rec.Position + 1
		}
	}

	if err := r.put(ctx, record{Key: ref.Key, Label: ref.Label, Position: next}); err != nil {
		return false, err
	}
	return true, nil
}

// Save persists refs as the complete list, in order. Duplicate keys keep
// their first position.
func (r *Repository) Save(ctx context.Context, refs []Reference) error {
	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing stations: %w", err)
	}

	seen := make(map[string]bool, len(refs))
	pos := 0
	for _, ref := range refs {
		if seen[ref.Key] {
			continue
		}
		seen[ref.Key] = true

		if err := r.put(ctx, record{Key: ref.Key, Label: ref.Label, Position: pos}); err != nil {
			return err
		}
		pos++
	}
	return nil
}

// Clear removes every selected station.
func (r *Repository) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}

func (r *Repository) put(ctx context.Context, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding station %s: %w", rec.Key, err)
	}
	if err := r.store.Set(ctx, rec.Key, data); err != nil {
		return fmt.Errorf("saving station %s: %w", rec.Key, err)
	}
	return nil
}

func (r *Repository) records(ctx context.Context) ([]record, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}

	records := make([]record, 0, len(keys))
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			// Deleted between Keys and Get
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading station %s: %w", key, err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decoding station %s: %w", key, err)
		}
		if rec.Key == "" {
			rec.Key = key
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Position != records[j].Position {
			return records[i].Position < records[j].Position
		}
		return records[i].Key < records[j].Key
	})
	return records, nil
}
