package ratelimit

import (
	"context"
	"path"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for tests. A single mutex serializes every
// operation, mirroring the serial execution Redis guarantees for scripts.
// Time is injectable so TTL behavior can be tested without sleeping.
type fakeStore struct {
	mu      sync.Mutex
	values  map[string]fakeValue
	sets    map[string]map[string]struct{}
	now     time.Time
	failOn  map[string]error // op name -> error to return
	expired []string         // keys reaped by advance(), in reap order
}

type fakeValue struct {
	val       string
	expiresAt time.Time // zero means no expiry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]fakeValue),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Unix(1700000000, 0),
		failOn: make(map[string]error),
	}
}

// advance moves the fake clock and reaps expired keys, recording them the way
// Redis would publish expiry events.
func (f *fakeStore) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for k, v := range f.values {
		if !v.expiresAt.IsZero() && !f.now.Before(v.expiresAt) {
			delete(f.values, k)
			f.expired = append(f.expired, k)
		}
	}
}

func (f *fakeStore) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op] = err
}

func (f *fakeStore) checkFail(op string) error {
	if err := f.failOn[op]; err != nil {
		return err
	}
	return nil
}

func (f *fakeStore) liveValue(key string) (fakeValue, bool) {
	v, ok := f.values[key]
	if !ok {
		return fakeValue{}, false
	}
	if !v.expiresAt.IsZero() && !f.now.Before(v.expiresAt) {
		delete(f.values, key)
		return fakeValue{}, false
	}
	return v, true
}

func (f *fakeStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("SetWithTTL"); err != nil {
		return err
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = f.now.Add(ttl)
	}
	f.values[key] = fakeValue{val: value, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("Exists"); err != nil {
		return false, err
	}
	_, ok := f.liveValue(key)
	return ok, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("Delete"); err != nil {
		return err
	}
	delete(f.values, key)
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("Get"); err != nil {
		return "", false, err
	}
	v, ok := f.liveValue(key)
	return v.val, ok, nil
}

func (f *fakeStore) TTLSeconds(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("TTLSeconds"); err != nil {
		return 0, err
	}
	v, ok := f.liveValue(key)
	if !ok || v.expiresAt.IsZero() {
		return 0, nil
	}
	return int64(v.expiresAt.Sub(f.now) / time.Second), nil
}

func (f *fakeStore) SetAdd(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("SetAdd"); err != nil {
		return err
	}
	f.addMember(key, member)
	return nil
}

func (f *fakeStore) addMember(key, member string) {
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	set[member] = struct{}{}
}

func (f *fakeStore) SetRemove(_ context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("SetRemove"); err != nil {
		return err
	}
	if set, ok := f.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(f.sets, key)
		}
	}
	return nil
}

func (f *fakeStore) SetCardinality(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("SetCardinality"); err != nil {
		return 0, err
	}
	return int64(len(f.sets[key])), nil
}

func (f *fakeStore) SetMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("SetMembers"); err != nil {
		return nil, err
	}
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (f *fakeStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("ScanKeys"); err != nil {
		return nil, err
	}
	var keys []string
	for k := range f.sets {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	for k := range f.values {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// RunReservationScript mirrors the Lua script: count, compare, add — all
// under the same lock, with no other operation interleaved.
func (f *fakeStore) RunReservationScript(_ context.Context, setKey string, limit int, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail("RunReservationScript"); err != nil {
		return false, err
	}
	if len(f.sets[setKey]) >= limit {
		return false, nil
	}
	f.addMember(setKey, member)
	return true, nil
}

func (f *fakeStore) SubscribeKeyExpiry(ctx context.Context, prefix string, handler func(key string)) error {
	<-ctx.Done()
	return nil
}

func (f *fakeStore) setMembersSnapshot(key string) map[string]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.sets[key]))
	for m := range f.sets[key] {
		out[m] = struct{}{}
	}
	return out
}
