package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/observable"
)

// Provider routes key definitions to their tier, serialises writes and notifies
// watchers once a write (or a multi-key clear) has fully completed.
type Provider struct {
	mu      sync.RWMutex
	stores  map[Location]Store
	defs    map[string]KeyDefinition
	changes map[string]*observable.Subject[uint64]
	version uint64
	log     *zap.Logger
}

// NewProvider wires the memory and disk tiers.
func NewProvider(memory, disk Store, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		stores:  map[Location]Store{Memory: memory, Disk: disk},
		defs:    map[string]KeyDefinition{},
		changes: map[string]*observable.Subject[uint64]{},
		log:     log,
	}
}

// Register makes definitions known to ClearOn.
func (p *Provider) Register(defs ...KeyDefinition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range defs {
		p.defs[d.Namespace+"/"+d.Key] = d
	}
}

func (p *Provider) store(loc Location) (Store, error) {
	s, ok := p.stores[loc]
	if !ok || s == nil {
		return nil, fmt.Errorf("no store for %s tier", loc)
	}
	return s, nil
}

// GetRaw returns the stored bytes for def, or ok=false when absent.
func (p *Provider) GetRaw(ctx context.Context, userID uuid.UUID, def KeyDefinition) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.get(ctx, userID, def)
}

func (p *Provider) get(ctx context.Context, userID uuid.UUID, def KeyDefinition) ([]byte, bool, error) {
	s, err := p.store(def.Location)
	if err != nil {
		return nil, false, err
	}
	return s.Get(ctx, def.StorageKey(userID))
}

// GetMany reads several keys under one read lock. Absent keys yield nil.
func (p *Provider) GetMany(ctx context.Context, userID uuid.UUID, defs ...KeyDefinition) ([][]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([][]byte, len(defs))
	for i, d := range defs {
		v, ok, err := p.get(ctx, userID, d)
		if err != nil {
			return nil, fmt.Errorf("get %s/%s: %w", d.Namespace, d.Key, err)
		}
		if ok {
			out[i] = v
		}
	}
	return out, nil
}

// SetRaw stores value for def.
func (p *Provider) SetRaw(ctx context.Context, userID uuid.UUID, def KeyDefinition, value []byte) error {
	return p.Update(ctx, userID, Entry{Def: def, Value: value})
}

// Entry pairs a definition with the bytes to store.
type Entry struct {
	Def   KeyDefinition
	Value []byte
}

// Update writes several keys as one change: each tier gets a single SetMany, disk
// first. When the memory tier then fails, the disk keys are put back, so either all
// entries are stored or none are. Watchers are notified only after success.
func (p *Provider) Update(ctx context.Context, userID uuid.UUID, entries ...Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	byLoc := map[Location]map[string][]byte{}
	for _, e := range entries {
		if byLoc[e.Def.Location] == nil {
			byLoc[e.Def.Location] = map[string][]byte{}
		}
		byLoc[e.Def.Location][e.Def.StorageKey(userID)] = e.Value
	}

	var undo func() error
	for _, loc := range []Location{Disk, Memory} {
		values := byLoc[loc]
		if len(values) == 0 {
			continue
		}
		s, err := p.store(loc)
		if err != nil {
			return err
		}
		restore, err := snapshot(ctx, s, values)
		if err != nil {
			return fmt.Errorf("read %s tier: %w", loc, err)
		}
		if err := s.SetMany(ctx, values); err != nil {
			if undo != nil {
				if rerr := undo(); rerr != nil {
					p.log.Error("state rollback failed", zap.String("user", userID.String()), zap.Error(rerr))
				}
			}
			return fmt.Errorf("write %s tier: %w", loc, err)
		}
		undo = restore
	}

	defs := make([]KeyDefinition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.Def)
	}
	p.notify(userID, defs)
	return nil
}

// snapshot records the current values of the keys about to be written and returns
// a func putting them back.
func snapshot(ctx context.Context, s Store, values map[string][]byte) (func() error, error) {
	prev := map[string][]byte{}
	var absent []string
	for k := range values {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			prev[k] = v
		} else {
			absent = append(absent, k)
		}
	}
	return func() error {
		if len(absent) > 0 {
			if err := s.Delete(ctx, absent...); err != nil {
				return err
			}
		}
		if len(prev) > 0 {
			return s.SetMany(ctx, prev)
		}
		return nil
	}, nil
}

// Clear removes all defs for the user. Keys are deleted per tier in one store call
// and watchers see a single change after every tier is done.
func (p *Provider) Clear(ctx context.Context, userID uuid.UUID, defs ...KeyDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clear(ctx, userID, defs)
}

func (p *Provider) clear(ctx context.Context, userID uuid.UUID, defs []KeyDefinition) error {
	byLoc := map[Location][]string{}
	for _, d := range defs {
		byLoc[d.Location] = append(byLoc[d.Location], d.StorageKey(userID))
	}
	for _, loc := range []Location{Disk, Memory} {
		keys := byLoc[loc]
		if len(keys) == 0 {
			continue
		}
		s, err := p.store(loc)
		if err != nil {
			return err
		}
		if err := s.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("clear %s tier: %w", loc, err)
		}
	}
	p.notify(userID, defs)
	return nil
}

// ClearOn drops every registered key that is cleared on ev.
func (p *Provider) ClearOn(ctx context.Context, userID uuid.UUID, ev ClearEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var defs []KeyDefinition
	for _, d := range p.defs {
		if d.clearsOn(ev) {
			defs = append(defs, d)
		}
	}
	p.log.Debug("state clear event",
		zap.String("user", userID.String()),
		zap.String("event", string(ev)),
		zap.Int("keys", len(defs)),
	)
	return p.clear(ctx, userID, defs)
}

// Changes returns a coalescing signal channel that fires after any of defs changes
// for the user. It closes when ctx ends, after subjects left without watchers are
// dropped.
func (p *Provider) Changes(ctx context.Context, userID uuid.UUID, defs ...KeyDefinition) <-chan struct{} {
	out := make(chan struct{}, 1)
	var wg sync.WaitGroup
	keys := make([]string, 0, len(defs))

	p.mu.Lock()
	for _, d := range defs {
		key := d.StorageKey(userID)
		keys = append(keys, key)
		sub := p.subject(key).Subscribe(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range sub {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}()
	}
	p.mu.Unlock()

	go func() {
		wg.Wait()
		p.evict(keys)
		close(out)
	}()
	return out
}

// evict drops subjects of keys nobody watches any more. Subscribe runs under p.mu,
// so a subject cannot gain a watcher between the check and the delete.
func (p *Provider) evict(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		if s, ok := p.changes[k]; ok && s.Subscribers() == 0 {
			s.Close()
			delete(p.changes, k)
		}
	}
}

// subject must be called with p.mu held.
func (p *Provider) subject(key string) *observable.Subject[uint64] {
	s, ok := p.changes[key]
	if !ok {
		s = observable.NewSubject[uint64]()
		p.changes[key] = s
	}
	return s
}

// notify must be called with p.mu held.
func (p *Provider) notify(userID uuid.UUID, defs []KeyDefinition) {
	p.version++
	for _, d := range defs {
		if s, ok := p.changes[d.StorageKey(userID)]; ok {
			s.Next(p.version)
		}
	}
}

// Get decodes the JSON value stored for def.
func Get[T any](ctx context.Context, p *Provider, userID uuid.UUID, def KeyDefinition) (T, bool, error) {
	var v T
	raw, ok, err := p.GetRaw(ctx, userID, def)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s/%s: %w", def.Namespace, def.Key, err)
	}
	return v, true, nil
}

// Set stores v as JSON for def.
func Set[T any](ctx context.Context, p *Provider, userID uuid.UUID, def KeyDefinition, v T) error {
	e, err := NewEntry(def, v)
	if err != nil {
		return err
	}
	return p.Update(ctx, userID, e)
}

// NewEntry JSON-encodes v for a multi-key Update.
func NewEntry[T any](def KeyDefinition, v T) (Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s/%s: %w", def.Namespace, def.Key, err)
	}
	return Entry{Def: def, Value: raw}, nil
}

// Decode unmarshals a raw value read through GetMany. nil raw yields ok=false.
func Decode[T any](raw []byte) (T, bool, error) {
	var v T
	if raw == nil {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Derive turns a change signal into a value stream. The current value is read
// synchronously and is already buffered in the returned channel; later values are
// emitted when they differ from the previous one.
func Derive[T comparable](ctx context.Context, changes <-chan struct{}, read func(context.Context) (T, error), log *zap.Logger) (<-chan T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cur, err := read(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan T, 1)
	out <- cur
	go func() {
		defer close(out)
		prev := cur
		for range changes {
			v, err := read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("state watch read failed", zap.Error(err))
				continue
			}
			if v == prev {
				continue
			}
			prev = v
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
