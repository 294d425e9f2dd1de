package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreBasicOperations(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(BucketUsage, "10.0.0.5")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(BucketUsage, "10.0.0.5", []byte(`{"usage_today":5}`)))

	data, err := s.Get(BucketUsage, "10.0.0.5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"usage_today":5}`, string(data))

	// Overwrite
	require.NoError(t, s.Set(BucketUsage, "10.0.0.5", []byte(`{"usage_today":10}`)))
	data, _ = s.Get(BucketUsage, "10.0.0.5")
	assert.JSONEq(t, `{"usage_today":10}`, string(data))

	require.NoError(t, s.Delete(BucketUsage, "10.0.0.5"))
	assert.ErrorIs(t, s.Delete(BucketUsage, "10.0.0.5"), ErrNotFound)
}

func TestStoreListAndBuckets(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set(BucketOverrides, "aa:bb:cc:dd:ee:01", []byte("{}")))
	require.NoError(t, s.Set(BucketOverrides, "aa:bb:cc:dd:ee:02", []byte("{}")))
	require.NoError(t, s.Set(BucketUsage, "10.0.0.5", []byte("{}")))

	all, err := s.List(BucketOverrides)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	keys, err := s.ListKeys(BucketOverrides)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, keys)

	require.NoError(t, s.DeleteBucket(BucketOverrides))
	all, _ = s.List(BucketOverrides)
	assert.Empty(t, all)

	// Other buckets untouched
	_, err = s.Get(BucketUsage, "10.0.0.5")
	assert.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(tx Tx) error {
		if err := tx.Set(BucketUsage, "10.0.0.5", []byte("partial")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.Get(BucketUsage, "10.0.0.5")
	assert.ErrorIs(t, err, ErrNotFound, "failed update must not leave partial writes")
}

func TestUpdateCommits(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(tx Tx) error {
		if err := tx.Set(BucketUsage, "10.0.0.5", []byte("a")); err != nil {
			return err
		}
		return tx.Set(BucketProfiles, "Kids", []byte("b"))
	})
	require.NoError(t, err)

	_, err = s.Get(BucketUsage, "10.0.0.5")
	assert.NoError(t, err)
	_, err = s.Get(BucketProfiles, "Kids")
	assert.NoError(t, err)
}

func TestOpenRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database"), 0o644))

	s, err := Open(Options{Path: path})
	require.NoError(t, err, "corrupt state must reinitialize, not fail")
	defer s.Close()

	require.NoError(t, s.Set(BucketMeta, KeyWatermarks, []byte("{}")))

	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err, "corrupt file should be kept aside")
}

func TestGetJSONTreatsCorruptRowAsMissing(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set(BucketUsage, "10.0.0.5", []byte("{{{ not json")))

	var rec UsageRecord
	err := GetJSON(s, BucketUsage, "10.0.0.5", &rec)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSnapshot(t *testing.T) {
	s := newTestStore(t)

	now := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, SetJSON(s, BucketUsage, "10.0.0.5", UsageRecord{
		Address: "10.0.0.5", UsageToday: 15, UsageWeek: 120, LastSeen: now,
	}))
	require.NoError(t, SetJSON(s, BucketProfiles, "Kids", ProfileUsage{
		Profile: "Kids", UsageToday: 15,
	}))
	require.NoError(t, SetJSON(s, BucketOverrides, "aa:bb:cc:dd:ee:01", Override{
		MAC: "aa:bb:cc:dd:ee:01", GrantedAt: now, ExpiresAt: now.Add(30 * time.Minute),
	}))
	require.NoError(t, SetJSON(s, BucketMeta, KeyWatermarks, Watermarks{LastCheck: now}))

	// An undecodable row must not break the snapshot
	require.NoError(t, s.Set(BucketUsage, "10.0.0.6", []byte("garbage")))

	snap, err := LoadSnapshot(s)
	require.NoError(t, err)

	assert.Len(t, snap.Usage, 1)
	assert.Equal(t, 15, snap.Usage["10.0.0.5"].UsageToday)
	assert.Equal(t, 15, snap.Profiles["Kids"].UsageToday)
	assert.True(t, snap.Overrides["aa:bb:cc:dd:ee:01"].Active(now))
	assert.True(t, snap.Watermarks.LastCheck.Equal(now))
}

func TestOverrideActive(t *testing.T) {
	now := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
	o := Override{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, o.Active(now))
	assert.False(t, o.Active(now.Add(time.Minute)), "expiry is exclusive")
	assert.False(t, o.Active(now.Add(2*time.Minute)))
}
