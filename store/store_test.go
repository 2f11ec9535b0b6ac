package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/resolve"
	"github.com/dotside-studios/seatlink-agent/scan"
)

func init() {
	SetLogger(nil)
}

var tableUUID = uuid.MustParse("2f234454-cf6d-4a0f-adf2-f4911ba9ffa6")

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "seatlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatlink.db")
	s, err := Open(path)
	require.NoError(t, err)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, s.Close())

	// Reopening an up-to-date database is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestBeaconRegistry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var ns [10]byte
	var inst [6]byte
	copy(ns[:], "seatlink01")
	inst[5] = 0x2A

	ib := beacon.NewIBeacon(tableUUID, 1, 1)
	ed := beacon.NewEddystone(ns, inst)
	tag := beacon.NewNFCTag([]byte{0x04, 0xA2, 0x2B, 0x9C})

	require.NoError(t, s.SyncAllowList(ctx, beacon.AllowList{
		{Identity: ib, TableID: "12", Label: "Window"},
		{Identity: ed},
	}))
	require.NoError(t, s.UpsertBeacon(ctx, beacon.AllowEntry{Identity: tag, TableID: "3"}))
	require.NoError(t, s.UpsertBeacon(ctx, beacon.AllowEntry{Identity: ib, TableID: "14", Label: "Patio"}))
	require.Error(t, s.UpsertBeacon(ctx, beacon.AllowEntry{}))

	list, err := s.AllowList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	byID := make(map[beacon.Identity]beacon.AllowEntry)
	for _, e := range list {
		byID[e.Identity] = e
	}
	assert.Equal(t, "14", byID[ib].TableID)
	assert.Equal(t, "Patio", byID[ib].Label)
	assert.Equal(t, "", byID[ed].TableID)
	assert.Equal(t, "3", byID[tag].TableID)

	b, err := s.Beacon(ctx, tag)
	require.NoError(t, err)
	assert.Nil(t, b.LastSeen)

	require.NoError(t, s.DeleteBeacon(ctx, tag))
	_, err = s.Beacon(ctx, tag)
	assert.True(t, errors.Is(err, ErrNotFound), "Beacon() error = %v", err)
	assert.True(t, errors.Is(s.DeleteBeacon(ctx, tag), ErrNotFound))
}

func TestRecordOutcome(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ib := beacon.NewIBeacon(tableUUID, 1, 1)
	require.NoError(t, s.UpsertBeacon(ctx, beacon.AllowEntry{Identity: ib, TableID: "12"}))

	start := time.Date(2026, 10, 17, 19, 30, 0, 0, time.UTC)
	require.NoError(t, s.RecordOutcome(ctx, resolve.Outcome{
		Result:     resolve.ResultNotFound,
		Caller:     "kiosk-1",
		Attempts:   []resolve.Attempt{{Modality: beacon.ModalityNFC, State: scan.TimedOut}},
		StartedAt:  start,
		FinishedAt: start.Add(10 * time.Second),
	}))
	require.NoError(t, s.RecordOutcome(ctx, resolve.Outcome{
		Result:   resolve.ResultTableID,
		TableID:  "12",
		Modality: beacon.ModalityIBeacon,
		Identity: ib,
		Caller:   "kiosk-1",
		Attempts: []resolve.Attempt{
			{Modality: beacon.ModalityNFC, State: scan.TimedOut},
			{Modality: beacon.ModalityIBeacon, State: scan.Matched},
		},
		StartedAt:  start.Add(time.Minute),
		FinishedAt: start.Add(time.Minute + 3*time.Second),
	}))
	require.NoError(t, s.RecordOutcome(ctx, resolve.Outcome{
		Result:     resolve.ResultCancelled,
		Err:        resolve.ErrSuperseded,
		StartedAt:  start.Add(2 * time.Minute),
		FinishedAt: start.Add(2 * time.Minute),
	}))

	recent, err := s.RecentResolutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	assert.Equal(t, resolve.ResultCancelled, recent[0].Result)
	assert.Equal(t, resolve.ErrSuperseded.Error(), recent[0].Error)

	found := recent[1]
	assert.Equal(t, resolve.ResultTableID, found.Result)
	assert.Equal(t, "12", found.TableID)
	assert.Equal(t, "ble-ibeacon", found.Modality)
	assert.Equal(t, ib.String(), found.Identity)
	assert.Equal(t, 2, found.Attempts)
	assert.Equal(t, 3*time.Second, found.Duration())

	b, err := s.Beacon(ctx, ib)
	require.NoError(t, err)
	require.NotNil(t, b.LastSeen)
	assert.True(t, b.LastSeen.Equal(start.Add(time.Minute+3*time.Second)), "LastSeen = %v", b.LastSeen)

	n, err := s.PruneResolutions(ctx, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	recent, err = s.RecentResolutions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, resolve.ResultCancelled, recent[0].Result)
}

func TestStoreAsRecorder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ib := beacon.NewIBeacon(tableUUID, 1, 1)

	d := scan.NewMockDriver(beacon.ModalityIBeacon)
	d.Frames = []beacon.RawFrame{{
		Modality: beacon.ModalityIBeacon,
		Kind:     beacon.FrameManufacturerData,
		Payload:  beacon.EncodeIBeacon(tableUUID, 1, 1, -59),
	}}
	c := resolve.New([]scan.Driver{d}, resolve.WithRecorder(s))
	resolve.SetLogger(nil)
	scan.SetLogger(nil)

	out := c.ResolveFor(ctx, "kiosk-2", resolve.Request{
		AllowList:          beacon.AllowList{{Identity: ib, TableID: "12"}},
		Modalities:         []beacon.Modality{beacon.ModalityIBeacon},
		TimeoutPerModality: time.Second,
	})
	require.True(t, out.Found(), "outcome = %+v", out)

	recent, err := s.RecentResolutions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "kiosk-2", recent[0].Caller)
	assert.Equal(t, "12", recent[0].TableID)
}
