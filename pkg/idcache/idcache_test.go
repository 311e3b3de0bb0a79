package idcache

import (
	"fmt"
	"testing"
)

// fakeLoader stands in for the metadata store, counting how often the
// cache falls through to it.
type fakeLoader struct {
	versions map[string]map[int32][3]int32 // space -> uid -> {versionID, vectorIndexID, unused}; defaults come from the defaults map
	defaults map[string]int32
	loads    int
}

func (f *fakeLoader) LoadVersion(space string, uid int32) (int32, int32, bool, error) {
	f.loads++
	vs, ok := f.versions[space]
	if !ok {
		return 0, 0, false, fmt.Errorf("no space %s", space)
	}
	v, ok := vs[uid]
	if !ok {
		return 0, 0, false, fmt.Errorf("no version %d", uid)
	}
	return v[0], v[1], f.defaults[space] == uid, nil
}

func (f *fakeLoader) LoadDefaultVersion(space string) (int32, int32, int32, error) {
	f.loads++
	uid, ok := f.defaults[space]
	if !ok {
		return 0, 0, 0, fmt.Errorf("no space %s", space)
	}
	v := f.versions[space][uid]
	return uid, v[0], v[1], nil
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		versions: map[string]map[int32][3]int32{
			"s1": {0: {100, 200}, 2: {101, 201}},
		},
		defaults: map[string]int32{"s1": 0},
	}
}

func TestPutAndGet(t *testing.T) {
	c := New(nil)
	c.Put("s1", 1, 10, 20, true)

	if got := c.GetVersionID("s1", 1); got != 10 {
		t.Errorf("GetVersionID = %d, want 10", got)
	}
	if got := c.GetVectorIndexID("s1", 1); got != 20 {
		t.Errorf("GetVectorIndexID = %d, want 20", got)
	}
	if got := c.GetDefaultVersionID("s1"); got != 10 {
		t.Errorf("GetDefaultVersionID = %d, want 10", got)
	}
}

func TestUnknownSpaceReturnsZero(t *testing.T) {
	c := New(nil)
	if got := c.GetDefaultVersionID("nope"); got != 0 {
		t.Errorf("GetDefaultVersionID = %d, want 0", got)
	}
	if got := c.GetVersionID("nope", 3); got != 0 {
		t.Errorf("GetVersionID = %d, want 0", got)
	}
}

func TestMissLoadsFromStoreOnce(t *testing.T) {
	l := newFakeLoader()
	c := New(l)

	if got := c.GetVersionID("s1", 2); got != 101 {
		t.Fatalf("GetVersionID = %d, want 101", got)
	}
	if l.loads != 1 {
		t.Fatalf("loads = %d, want 1", l.loads)
	}
	// Second lookup is served from cache.
	c.GetVersionID("s1", 2)
	c.GetVectorIndexID("s1", 2)
	if l.loads != 1 {
		t.Errorf("loads = %d after cached lookups, want 1", l.loads)
	}
}

func TestUIDZeroResolvesDefault(t *testing.T) {
	l := newFakeLoader()
	l.defaults["s1"] = 2
	c := New(l)

	if got := c.GetVersionID("s1", 0); got != 101 {
		t.Errorf("GetVersionID(s1, 0) = %d, want default version 101", got)
	}
	if got := c.GetVectorIndexID("s1", 0); got != 201 {
		t.Errorf("GetVectorIndexID(s1, 0) = %d, want 201", got)
	}
}

func TestReverseLookups(t *testing.T) {
	c := New(nil)
	c.Put("s1", 3, 30, 40, false)

	space, uid, ok := c.SpaceNameAndVersionUniqueID(30)
	if !ok || space != "s1" || uid != 3 {
		t.Errorf("SpaceNameAndVersionUniqueID(30) = %q/%d/%v", space, uid, ok)
	}
	space, uid, ok = c.SpaceNameAndVersionUniqueIDByVectorIndexID(40)
	if !ok || space != "s1" || uid != 3 {
		t.Errorf("by vector index = %q/%d/%v", space, uid, ok)
	}
}

func TestCleanDropsEverything(t *testing.T) {
	c := New(nil)
	c.Put("s1", 0, 10, 20, true)
	c.Clean()

	if got := c.GetDefaultVersionID("s1"); got != 0 {
		t.Errorf("GetDefaultVersionID after Clean = %d", got)
	}
	if _, _, ok := c.SpaceNameAndVersionUniqueID(10); ok {
		t.Error("reverse lookup should miss after Clean")
	}
}

func TestClearSpaceNameCacheKeepsReverseMaps(t *testing.T) {
	c := New(nil)
	c.Put("s1", 0, 10, 20, true)
	c.ClearSpaceNameCache()

	if got := c.GetDefaultVersionID("s1"); got != 0 {
		t.Errorf("forward lookup should miss after clear, got %d", got)
	}
	if _, _, ok := c.SpaceNameAndVersionUniqueID(10); !ok {
		t.Error("reverse lookup should survive ClearSpaceNameCache")
	}
}

func TestClearedEntryReloadsFromStore(t *testing.T) {
	l := newFakeLoader()
	c := New(l)

	c.GetVersionID("s1", 2)
	c.ClearSpaceNameCache()
	if got := c.GetVersionID("s1", 2); got != 101 {
		t.Errorf("GetVersionID after clear = %d, want reload to 101", got)
	}
	if l.loads != 2 {
		t.Errorf("loads = %d, want 2 (one per miss)", l.loads)
	}
}
