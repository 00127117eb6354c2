package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/canvas"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/live"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/syncengine"
)

// memberStore 한 사용자의 권한으로 SnapshotService를 syncengine.Store로 노출
type memberStore struct {
	snaps    *SnapshotService
	identity string
}

func (s memberStore) Latest(ctx context.Context, roomID string) (syncengine.Update, error) {
	snap, err := s.snaps.GetLatest(ctx, roomID, s.identity)
	if err != nil || snap == nil {
		return syncengine.Update{}, err
	}
	return syncengine.Update{SnapshotID: snap.ID, SaveData: snap.SaveData, Present: true}, nil
}

func (s memberStore) Append(ctx context.Context, roomID, blob string) error {
	_, err := s.snaps.Append(ctx, roomID, blob, s.identity)
	return err
}

// follow 허브 이벤트마다 최신 스냅샷을 다시 읽어 엔진에 전달
func follow(ctx context.Context, sub *live.Subscription, store memberStore, roomID string) <-chan syncengine.Update {
	out := make(chan syncengine.Update, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				u, err := store.Latest(ctx, roomID)
				if err != nil {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func TestScenario_TwoMembersConverge(t *testing.T) {
	db := setupTestDB(t)
	hub := live.NewHub()
	clock := newStepClock()
	rooms := NewRoomService(db, WithClock(clock.Now), WithPublisher(hub))
	snaps := NewSnapshotService(db, config.CanvasConfig{MaxSnapshotBytes: 1 << 20}, WithClock(clock.Now), WithPublisher(hub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomID, err := rooms.CreateRoom(ctx, "Sketches", "U1")
	require.NoError(t, err)

	result, err := rooms.InviteMember(ctx, roomID, "U2")
	require.NoError(t, err)
	assert.Equal(t, model.JoinResultJoined, result)

	detail, err := rooms.GetRoom(ctx, roomID, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, detail.Members)

	type client struct {
		engine *syncengine.Engine
		board  *canvas.Board
	}
	quiet := syncengine.WithLogger(func(string, ...any) {})
	clients := make(map[string]client)
	var wg sync.WaitGroup
	for _, id := range []string{"U1", "U2"} {
		store := memberStore{snaps: snaps, identity: id}
		board := canvas.NewBoard(1200, 600)
		engine := syncengine.New(roomID, board, store, quiet)
		sub := hub.Subscribe(roomID)
		updates := follow(ctx, sub, store, roomID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.Run(ctx, updates)
		}()
		t.Cleanup(sub.Close)
		t.Cleanup(engine.Close)
		clients[id] = client{engine: engine, board: board}
	}

	u1, u2 := clients["U1"], clients["U2"]
	require.Eventually(t, func() bool {
		m1, _ := u1.engine.State()
		m2, _ := u2.engine.State()
		return m1 == syncengine.ModeReady && m2 == syncengine.ModeReady
	}, 2*time.Second, 5*time.Millisecond)

	// U1이 빨간 선을 그린다 → S1
	u1.board.AddStroke(red)
	require.Eventually(t, func() bool { return u2.engine.Stats().Loads == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, u2.board.Strokes(), 1)

	// U2가 그 위에 파란 선을 그린다 → S2 (두 선 모두 포함)
	u2.board.AddStroke(blue)
	require.Eventually(t, func() bool { return u1.engine.Stats().Loads == 1 }, 2*time.Second, 5*time.Millisecond)

	u1.engine.Wait()
	u2.engine.Wait()

	want := canvas.Drawing{Lines: []canvas.Stroke{red, blue}}
	assert.True(t, canvas.Equal(want, canvas.Drawing{Lines: u1.board.Strokes()}))
	assert.True(t, canvas.Equal(want, canvas.Drawing{Lines: u2.board.Strokes()}))

	latest, err := snaps.GetLatest(ctx, roomID, "U1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "U2", latest.Author)
	got, err := canvas.Decode(latest.SaveData)
	require.NoError(t, err)
	assert.True(t, canvas.Equal(want, got))

	// 각자 자신의 스냅샷은 다시 로드하지 않았다
	assert.Equal(t, 1, u1.engine.Stats().Sends)
	assert.Equal(t, 1, u2.engine.Stats().Sends)

	cancel()
	wg.Wait()
}
