package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gk-unlock/internal/state/memstore"
)

var (
	memKey  = KeyDefinition{Namespace: "test", Key: "mem", Location: Memory, ClearOn: []ClearEvent{ClearOnLock, ClearOnLogout}}
	diskKey = KeyDefinition{Namespace: "test", Key: "disk", Location: Disk, ClearOn: []ClearEvent{ClearOnLogout}}
	keepKey = KeyDefinition{Namespace: "test", Key: "keep", Location: Disk}
)

var errFull = errors.New("disk full")

// flakyStore fails its failOn-th write (1-based); zero never fails.
type flakyStore struct {
	*memstore.Store
	failOn int
	writes int
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	return f.SetMany(ctx, map[string][]byte{key: value})
}

func (f *flakyStore) SetMany(ctx context.Context, values map[string][]byte) error {
	f.writes++
	if f.writes == f.failOn {
		return errFull
	}
	return f.Store.SetMany(ctx, values)
}

// watched reports how many storage keys currently have a change subject.
func watched(p *Provider) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.changes)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("changes channel not closed after cancel")
		}
	}
}

func newProvider(t *testing.T) (*Provider, *memstore.Store, *memstore.Store) {
	t.Helper()
	mem, disk := memstore.New(), memstore.New()
	p := NewProvider(mem, disk, zaptest.NewLogger(t))
	p.Register(memKey, diskKey, keepKey)
	return p, mem, disk
}

func TestStorageKey(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	if got := diskKey.StorageKey(id); got != "user_6ba7b810-9dad-11d1-80b4-00c04fd430c8_test_disk" {
		t.Fatalf("user key: %s", got)
	}
	if got := diskKey.StorageKey(uuid.Nil); got != "global_test_disk" {
		t.Fatalf("global key: %s", got)
	}
}

func TestProvider_TierRouting(t *testing.T) {
	t.Parallel()
	p, mem, disk := newProvider(t)
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())

	if err := Set(ctx, p, u, memKey, "m"); err != nil {
		t.Fatalf("set mem: %v", err)
	}
	if err := Set(ctx, p, u, diskKey, 42); err != nil {
		t.Fatalf("set disk: %v", err)
	}
	if mem.Len() != 1 || disk.Len() != 1 {
		t.Fatalf("tiers: mem=%d disk=%d", mem.Len(), disk.Len())
	}

	n, ok, err := Get[int](ctx, p, u, diskKey)
	if err != nil || !ok || n != 42 {
		t.Fatalf("get disk: %v %v %v", n, ok, err)
	}

	other := uuid.Must(uuid.NewV4())
	if _, ok, _ := Get[string](ctx, p, other, memKey); ok {
		t.Fatalf("value leaked across users")
	}
}

func TestProvider_GetMany(t *testing.T) {
	t.Parallel()
	p, _, _ := newProvider(t)
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())
	_ = Set(ctx, p, u, diskKey, "x")

	vals, err := p.GetMany(ctx, u, memKey, diskKey)
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if vals[0] != nil {
		t.Fatalf("absent key must be nil")
	}
	s, ok, err := Decode[string](vals[1])
	if err != nil || !ok || s != "x" {
		t.Fatalf("decode: %q %v %v", s, ok, err)
	}
}

func TestProvider_UpdateDiskFailureLeavesMemory(t *testing.T) {
	t.Parallel()
	mem := memstore.New()
	p := NewProvider(mem, &flakyStore{Store: memstore.New(), failOn: 1}, nil)
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())

	a, _ := NewEntry(memKey, "m")
	b, _ := NewEntry(diskKey, "d")
	if err := p.Update(ctx, u, a, b); !errors.Is(err, errFull) {
		t.Fatalf("want disk full, got %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("memory tier written despite disk failure")
	}
}

var hashKey = KeyDefinition{Namespace: "test", Key: "hash", Location: Disk}

func TestProvider_UpdateSecondDiskWriteFailsKeepsBothKeys(t *testing.T) {
	t.Parallel()
	disk := &flakyStore{Store: memstore.New(), failOn: 2}
	p := NewProvider(memstore.New(), disk, nil)
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())

	a, _ := NewEntry(hashKey, "old-hash")
	b, _ := NewEntry(diskKey, "old-blob")
	if err := p.Update(ctx, u, a, b); err != nil {
		t.Fatalf("first update: %v", err)
	}

	a, _ = NewEntry(hashKey, "new-hash")
	b, _ = NewEntry(diskKey, "new-blob")
	if err := p.Update(ctx, u, a, b); !errors.Is(err, errFull) {
		t.Fatalf("want disk full, got %v", err)
	}
	h, _, _ := Get[string](ctx, p, u, hashKey)
	d, _, _ := Get[string](ctx, p, u, diskKey)
	if h != "old-hash" || d != "old-blob" {
		t.Fatalf("keys diverged: hash=%q blob=%q", h, d)
	}
}

func TestProvider_UpdateMemoryFailureRestoresDisk(t *testing.T) {
	t.Parallel()
	disk := memstore.New()
	p := NewProvider(&flakyStore{Store: memstore.New(), failOn: 1}, disk, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	u := uuid.Must(uuid.NewV4())
	if err := Set(ctx, p, u, hashKey, "old-hash"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ch := p.Changes(ctx, u, hashKey, diskKey, memKey)

	a, _ := NewEntry(hashKey, "new-hash")
	b, _ := NewEntry(diskKey, "new-blob")
	c, _ := NewEntry(memKey, "mem")
	if err := p.Update(ctx, u, a, b, c); !errors.Is(err, errFull) {
		t.Fatalf("want disk full, got %v", err)
	}

	if h, _, _ := Get[string](ctx, p, u, hashKey); h != "old-hash" {
		t.Fatalf("disk value not restored: %q", h)
	}
	if _, ok, _ := p.GetRaw(ctx, u, diskKey); ok {
		t.Fatalf("key absent before the update was left behind")
	}
	if disk.Len() != 1 {
		t.Fatalf("disk tier holds %d keys, want 1", disk.Len())
	}
	select {
	case <-ch:
		t.Fatalf("watchers notified of a failed update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProvider_ChangesDropsIdleSubjects(t *testing.T) {
	t.Parallel()
	p, _, _ := newProvider(t)
	u := uuid.Must(uuid.NewV4())

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch := p.Changes(ctx, u, memKey, diskKey)
		cancel()
		waitClosed(t, ch)
	}
	if n := watched(p); n != 0 {
		t.Fatalf("%d subjects left after all watchers ended", n)
	}
}

func TestProvider_ChangesKeepsSubjectWithWatchers(t *testing.T) {
	t.Parallel()
	p, _, _ := newProvider(t)
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())

	longCtx, stop := context.WithCancel(ctx)
	defer stop()
	long := p.Changes(longCtx, u, diskKey)

	shortCtx, cancel := context.WithCancel(ctx)
	short := p.Changes(shortCtx, u, diskKey, memKey)
	cancel()
	waitClosed(t, short)

	if n := watched(p); n != 1 {
		t.Fatalf("watched = %d, want 1", n)
	}
	_ = Set(ctx, p, u, diskKey, "v")
	select {
	case <-long:
	case <-time.After(time.Second):
		t.Fatalf("remaining watcher lost its signal")
	}
}

func TestProvider_ClearOn(t *testing.T) {
	t.Parallel()
	p, _, _ := newProvider(t)
	ctx := context.Background()
	u := uuid.Must(uuid.NewV4())
	for _, d := range []KeyDefinition{memKey, diskKey, keepKey} {
		if err := Set(ctx, p, u, d, "v"); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	if err := p.ClearOn(ctx, u, ClearOnLock); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, ok, _ := p.GetRaw(ctx, u, memKey); ok {
		t.Fatalf("memory key survived lock")
	}
	if _, ok, _ := p.GetRaw(ctx, u, diskKey); !ok {
		t.Fatalf("disk key cleared on lock")
	}

	if err := p.ClearOn(ctx, u, ClearOnLogout); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := p.GetRaw(ctx, u, diskKey); ok {
		t.Fatalf("disk key survived logout")
	}
	if _, ok, _ := p.GetRaw(ctx, u, keepKey); !ok {
		t.Fatalf("key without lifecycle was cleared")
	}
}

func TestProvider_ChangesFiresAfterWholeClear(t *testing.T) {
	t.Parallel()
	p, _, _ := newProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	u := uuid.Must(uuid.NewV4())
	_ = Set(ctx, p, u, memKey, "m")
	_ = Set(ctx, p, u, diskKey, "d")

	ch := p.Changes(ctx, u, memKey, diskKey)
	if err := p.Clear(ctx, u, memKey, diskKey); err != nil {
		t.Fatalf("clear: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no change signal")
	}
	vals, _ := p.GetMany(ctx, u, memKey, diskKey)
	if vals[0] != nil || vals[1] != nil {
		t.Fatalf("watcher observed partial clear")
	}

	cancel()
	waitClosed(t, ch)
}

func TestDerive(t *testing.T) {
	t.Parallel()
	p, _, _ := newProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	u := uuid.Must(uuid.NewV4())

	read := func(ctx context.Context) (string, error) {
		v, _, err := Get[string](ctx, p, u, diskKey)
		return v, err
	}
	out, err := Derive(ctx, p.Changes(ctx, u, diskKey), read, nil)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if v := <-out; v != "" {
		t.Fatalf("initial: %q", v)
	}

	_ = Set(ctx, p, u, diskKey, "a")
	select {
	case v := <-out:
		if v != "a" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update")
	}

	// same value again is deduplicated
	_ = Set(ctx, p, u, diskKey, "a")
	_ = Set(ctx, p, u, diskKey, "b")
	select {
	case v := <-out:
		if v != "b" {
			t.Fatalf("got %q, want b", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update")
	}
}
