package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/apperr"
	"whiteboard-backend/internal/canvas"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

var (
	red  = canvas.Stroke{Points: []canvas.Point{{X: 10, Y: 10}, {X: 40, Y: 45.5}}, Color: "#ff0000", Radius: 5}
	blue = canvas.Stroke{Points: []canvas.Point{{X: 200, Y: 120}, {X: 210, Y: 118}}, Color: "#0000ff", Radius: 2}
)

func blobWith(t *testing.T, strokes ...canvas.Stroke) string {
	t.Helper()
	blob, err := canvas.Encode(canvas.Drawing{Lines: strokes, Width: 1200, Height: 600})
	require.NoError(t, err)
	return blob
}

func newRoom(t *testing.T, f *fixture, owner string, members ...string) string {
	t.Helper()
	ctx := context.Background()
	roomID, err := f.rooms.CreateRoom(ctx, "Board", owner)
	require.NoError(t, err)
	for _, m := range members {
		_, err := f.rooms.InviteMember(ctx, roomID, m)
		require.NoError(t, err)
	}
	return roomID
}

func TestGetLatest_EmptyRoom(t *testing.T) {
	f := newFixture(t)
	roomID := newRoom(t, f, "u1")

	snap, err := f.snapshots.GetLatest(context.Background(), roomID, "u1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAppend_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1")

	blob := blobWith(t, red, blue)
	appended, err := f.snapshots.Append(ctx, roomID, blob, "u1")
	require.NoError(t, err)
	assert.NotZero(t, appended.ID)

	got, err := f.snapshots.GetLatest(ctx, roomID, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, appended.ID, got.ID)
	assert.Equal(t, "u1", got.Author)

	d, err := canvas.Decode(got.SaveData)
	require.NoError(t, err)
	require.Len(t, d.Lines, 2)
	assert.Equal(t, red.Points, d.Lines[0].Points)
	assert.Equal(t, red.Color, d.Lines[0].Color)
	assert.Equal(t, red.Radius, d.Lines[0].Radius)
	assert.Equal(t, blue.Points, d.Lines[1].Points)
}

func TestAppend_LatestByTimestamp(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var (
		mu   sync.Mutex
		next = base
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return next
	}
	setClock := func(ts time.Time) {
		mu.Lock()
		next = ts
		mu.Unlock()
	}

	rooms := NewRoomService(db, WithClock(clock))
	snaps := NewSnapshotService(db, config.CanvasConfig{MaxSnapshotBytes: 4096}, WithClock(clock))
	ctx := context.Background()

	roomID, err := rooms.CreateRoom(ctx, "Board", "u1")
	require.NoError(t, err)

	// 늦게 삽입됐지만 타임스탬프가 더 이른 스냅샷은 최신이 아니다
	setClock(base.Add(2 * time.Second))
	later, err := snaps.Append(ctx, roomID, blobWith(t, blue), "u1")
	require.NoError(t, err)
	setClock(base.Add(1 * time.Second))
	_, err = snaps.Append(ctx, roomID, blobWith(t, red), "u1")
	require.NoError(t, err)

	got, err := snaps.GetLatest(ctx, roomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, later.ID, got.ID)

	// 같은 타임스탬프는 id가 큰 쪽
	setClock(base.Add(2 * time.Second))
	tie, err := snaps.Append(ctx, roomID, blobWith(t, red, blue), "u1")
	require.NoError(t, err)

	got, err = snaps.GetLatest(ctx, roomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, tie.ID, got.ID)
}

func TestGetLatest_AccessControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1")
	_, err := f.snapshots.Append(ctx, roomID, blobWith(t, red), "u1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		roomID   string
		identity string
		wantErr  error
	}{
		{"non-member", roomID, "stranger", apperr.ErrNotAuthorized},
		{"absent room", uuid.NewString(), "stranger", apperr.ErrNotAuthorized},
		{"absent room, existing user", uuid.NewString(), "u1", apperr.ErrNotAuthorized},
		{"no identity", roomID, "", apperr.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := f.snapshots.GetLatest(ctx, tt.roomID, tt.identity)
			assert.Nil(t, snap)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestAppend_RequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1")

	_, err := f.snapshots.Append(ctx, roomID, blobWith(t, red), "stranger")
	assert.True(t, errors.Is(err, apperr.ErrNotAuthorized))

	_, err = f.snapshots.Append(ctx, uuid.NewString(), blobWith(t, red), "u1")
	assert.True(t, errors.Is(err, apperr.ErrNotAuthorized))

	_, err = f.snapshots.Append(ctx, roomID, blobWith(t, red), "")
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))

	var count int64
	f.db.Model(&model.CanvasSnapshot{}).Count(&count)
	assert.Zero(t, count)
	assert.Empty(t, f.pub.Events())
}

func TestAppend_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1")

	for name, blob := range map[string]string{
		"empty":     "",
		"not json":  "lines: red",
		"array":     "[]",
		"too large": `{"lines":[],"pad":"` + strings.Repeat("x", 5000) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.snapshots.Append(ctx, roomID, blob, "u1")
			assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "got %v", err)
		})
	}

	// 권한 검사가 입력 검사보다 먼저다
	_, err := f.snapshots.Append(ctx, roomID, "", "stranger")
	assert.True(t, errors.Is(err, apperr.ErrNotAuthorized))
}

func TestAppend_PublishesAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1", "u2")

	first, err := f.snapshots.Append(ctx, roomID, blobWith(t, red), "u1")
	require.NoError(t, err)

	got, err := f.snapshots.GetLatest(ctx, roomID, "u2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	_, err = f.snapshots.GetLatest(ctx, roomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.cache.hits)

	second, err := f.snapshots.Append(ctx, roomID, blobWith(t, red, blue), "u2")
	require.NoError(t, err)

	got, err = f.snapshots.GetLatest(ctx, roomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 0, f.cache.invalidated)

	events := f.pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCanvasUpdated, events[0].Type)
	assert.Equal(t, first.ID, events[0].SnapshotID)
	assert.Equal(t, second.ID, events[1].SnapshotID)
	assert.Equal(t, roomID, events[1].RoomID)
}

// 느린 읽기의 캐시 채우기가 그 사이 추가된 스냅샷을 가리지 않는다
func TestGetLatest_FillRacingAppend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1", "u2")

	first, err := f.snapshots.Append(ctx, roomID, blobWith(t, red), "u1")
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, roomID))

	var second *model.CanvasSnapshot
	f.cache.beforeStore = func() {
		var appendErr error
		second, appendErr = f.snapshots.Append(ctx, roomID, blobWith(t, red, blue), "u2")
		require.NoError(t, appendErr)
	}

	// DB에서 first를 읽은 뒤 채우기 직전에 second가 추가된다
	got, err := f.snapshots.GetLatest(ctx, roomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	require.NotNil(t, second)

	for _, user := range []string{"u1", "u2"} {
		got, err = f.snapshots.GetLatest(ctx, roomID, user)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.Equal(t, second.SaveData, got.SaveData)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := newRoom(t, f, "u1", "u2")

	var ids []int64
	for i := 0; i < 12; i++ {
		author := "u1"
		if i%2 == 1 {
			author = "u2"
		}
		snap, err := f.snapshots.Append(ctx, roomID, blobWith(t, red), author)
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	metas, err := f.snapshots.History(ctx, roomID, "u2", 0)
	require.NoError(t, err)
	require.Len(t, metas, 10)
	assert.Equal(t, ids[11], metas[0].ID)
	assert.Equal(t, "u2", metas[0].Author)
	assert.Equal(t, len(blobWith(t, red)), metas[0].Size)
	assert.True(t, metas[0].CreatedAt.After(metas[1].CreatedAt))

	metas, err = f.snapshots.History(ctx, roomID, "u1", 3)
	require.NoError(t, err)
	assert.Len(t, metas, 3)

	_, err = f.snapshots.History(ctx, roomID, "stranger", 3)
	assert.True(t, errors.Is(err, apperr.ErrNotAuthorized))
}
