// Package syncengine keeps one client's drawing surface converged with a room's
// latest canvas snapshot.
//
// Remote snapshots are loaded into the surface unless they match what this
// client last applied or sent (echo suppression). Local edits are serialized
// and appended as whole-canvas snapshots. Comparison is structural, so two
// encodings of the same strokes are treated as equal.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"whiteboard-backend/internal/canvas"
)

var ErrClosed = errors.New("sync engine closed")

// Surface 동기화 대상 드로잉 표면
type Surface interface {
	SaveData() (string, error)
	// LoadSaveData는 변경 알림을 발생시키지 않아야 한다
	LoadSaveData(blob string) error
	OnChange(fn func()) (cancel func())
}

// Store 방 스냅샷 저장소 (원격 API)
type Store interface {
	Latest(ctx context.Context, roomID string) (Update, error)
	Append(ctx context.Context, roomID, blob string) error
}

// Update 구독으로 전달되는 최신 스냅샷
type Update struct {
	SnapshotID int64
	SaveData   string
	Present    bool
}

// Stats 엔진 동작 카운터
type Stats struct {
	Loads    int // 원격 스냅샷을 표면에 로드한 횟수
	Skips    int // 에코로 판단해 건너뛴 횟수
	Sends    int // 성공한 Append
	Failures int // 실패한 Append
}

type Option func(*Engine)

// WithSendTimeout Append 한 건의 제한 시간
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

// WithLogger 로그 함수 지정
func WithLogger(logf func(format string, args ...any)) Option {
	return func(e *Engine) {
		if logf != nil {
			e.logf = logf
		}
	}
}

// Engine 클라이언트 한 명의 동기화 상태 머신
type Engine struct {
	roomID      string
	surface     Surface
	store       Store
	sendTimeout time.Duration
	logf        func(format string, args ...any)

	mu    sync.Mutex
	s     session
	stats Stats

	// 원격 로드(초기 로드 포함)를 직렬화
	loadMu sync.Mutex

	// Append는 한 번에 하나씩 순서대로 보낸다. 대기 중인 전송은 최신 것 하나만 남는다.
	sending bool
	pending *outgoing

	wg             sync.WaitGroup
	cancelOnChange func()
}

// outgoing 전송 대기 중인 로컬 스냅샷
type outgoing struct {
	ctx  context.Context
	blob string
	gen  uint64
	prev known
}

// New 엔진 생성. 표면의 변경 알림에 바로 연결되지만 Ready 전까지는 무시된다.
func New(roomID string, surface Surface, store Store, opts ...Option) *Engine {
	e := &Engine{
		roomID:      roomID,
		surface:     surface,
		store:       store,
		sendTimeout: 10 * time.Second,
		logf: func(format string, args ...any) {
			log.Printf("[SyncEngine] "+format, args...)
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cancelOnChange = surface.OnChange(func() {
		e.HandleLocalChange(context.Background())
	})
	return e
}

// Start 최신 스냅샷을 불러와 표면에 적용하고 Ready로 전환
func (e *Engine) Start(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	if e.s.mode == ModeClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.s.mode != ModeIdle {
		e.mu.Unlock()
		return fmt.Errorf("start in mode %s", e.s.mode)
	}
	e.s = e.s.beginLoad()
	e.mu.Unlock()

	initial, err := e.loadInitial(ctx)

	e.mu.Lock()
	if e.s.mode == ModeClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		e.s = e.s.loadFailed()
		e.mu.Unlock()
		return err
	}
	var pending bool
	e.s, pending = e.s.ready(initial).takeDeferred()
	e.mu.Unlock()

	// 로드 중에 들어온 로컬 변경은 Ready 이후 한 번 검사한다
	if pending {
		e.HandleLocalChange(context.WithoutCancel(ctx))
	}
	return nil
}

func (e *Engine) loadInitial(ctx context.Context) (known, error) {
	u, err := e.store.Latest(ctx, e.roomID)
	if err != nil {
		return known{}, fmt.Errorf("fetch latest: %w", err)
	}
	if !u.Present {
		return known{}, nil
	}

	d, err := canvas.Decode(u.SaveData)
	if err != nil {
		return known{}, err
	}
	if err := e.surface.LoadSaveData(u.SaveData); err != nil {
		return known{}, fmt.Errorf("load initial snapshot: %w", err)
	}

	e.mu.Lock()
	e.stats.Loads++
	e.mu.Unlock()
	return known{drawing: d, set: true}, nil
}

// Run Start 후 구독 채널이 닫히거나 ctx가 끝날 때까지 원격 스냅샷을 적용
// updates는 Start 전에 열린 구독이어야 로드 중 도착한 변경을 놓치지 않는다.
func (e *Engine) Run(ctx context.Context, updates <-chan Update) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			e.HandleRemote(u)
		}
	}
}

// HandleRemote 원격 스냅샷 적용. 마지막으로 알고 있는 내용과 같으면 건너뛴다.
func (e *Engine) HandleRemote(u Update) {
	if !u.Present {
		return
	}
	d, err := canvas.Decode(u.SaveData)
	if err != nil {
		e.logf("Ignoring undecodable snapshot %d for room %s: %v", u.SnapshotID, e.roomID, err)
		return
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	if e.s.mode != ModeReady {
		e.mu.Unlock()
		return
	}
	if e.s.isEcho(d) {
		e.stats.Skips++
		e.mu.Unlock()
		return
	}
	var prev known
	e.s, prev = e.s.applyRemote(d)
	gen := e.s.gen
	e.mu.Unlock()

	// 로드 중 표면이 보내는 변경 알림은 로드가 끝난 뒤 한 번만 검사된다
	loadErr := e.surface.LoadSaveData(u.SaveData)

	e.mu.Lock()
	if e.s.mode != ModeReady {
		e.mu.Unlock()
		return
	}
	if loadErr != nil {
		e.logf("Failed to load snapshot %d for room %s: %v", u.SnapshotID, e.roomID, loadErr)
		e.s = e.s.remoteFailed(gen, prev)
		e.mu.Unlock()
		return
	}
	e.stats.Loads++
	var pending bool
	e.s, pending = e.s.remoteApplied()
	e.mu.Unlock()

	if pending {
		e.HandleLocalChange(context.Background())
	}
}

// HandleLocalChange 표면 내용을 직렬화해 바뀌었으면 전송 대기열에 올린다
func (e *Engine) HandleLocalChange(ctx context.Context) {
	e.mu.Lock()
	if e.s.mode == ModeLoading {
		e.s = e.s.deferLocal()
		e.mu.Unlock()
		return
	}
	if e.s.mode != ModeReady {
		e.mu.Unlock()
		return
	}
	if e.s.sub == SubApplyingRemote {
		e.s = e.s.deferLocal()
		e.mu.Unlock()
		return
	}

	blob, err := e.surface.SaveData()
	if err != nil {
		e.mu.Unlock()
		e.logf("Failed to serialize surface for room %s: %v", e.roomID, err)
		return
	}
	d, err := canvas.Decode(blob)
	if err != nil {
		e.mu.Unlock()
		e.logf("Surface produced invalid save data for room %s: %v", e.roomID, err)
		return
	}
	if e.s.isEcho(d) {
		e.mu.Unlock()
		return
	}

	var prev known
	e.s, prev = e.s.markDirty(d)
	next := &outgoing{ctx: context.WithoutCancel(ctx), blob: blob, gen: e.s.gen, prev: prev}
	if e.pending != nil {
		// 보내지 못한 대기 건을 대체하므로 실패 시 복구 기준은 그 이전 값이다
		next.prev = e.pending.prev
	}
	e.pending = next
	if !e.sending {
		e.sending = true
		e.wg.Add(1)
		go e.sendLoop()
	}
	e.mu.Unlock()
}

// sendLoop 대기 중인 스냅샷이 없을 때까지 순서대로 Append
func (e *Engine) sendLoop() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		next := e.pending
		e.pending = nil
		if next == nil || e.s.mode == ModeClosed {
			e.sending = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.send(next)
	}
}

func (e *Engine) send(o *outgoing) {
	ctx, cancel := context.WithTimeout(o.ctx, e.sendTimeout)
	defer cancel()

	err := e.store.Append(ctx, e.roomID, o.blob)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.mode == ModeClosed {
		return
	}
	if err != nil {
		e.stats.Failures++
		e.logf("Failed to append snapshot for room %s: %v", e.roomID, err)
		e.s = e.s.sendFailed(o.gen, o.prev)
		return
	}
	e.stats.Sends++
	e.s = e.s.sendSucceeded(o.gen)
}

// Retry 변경 감지를 다시 실행 (실패한 전송 재시도용)
func (e *Engine) Retry(ctx context.Context) {
	e.HandleLocalChange(ctx)
}

// Wait 진행 중인 Append가 모두 끝날 때까지 대기
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close 이후의 콜백과 진행 중인 Append 완료는 아무 것도 하지 않는다
func (e *Engine) Close() {
	e.mu.Lock()
	if e.s.mode == ModeClosed {
		e.mu.Unlock()
		return
	}
	e.s = e.s.close()
	e.mu.Unlock()

	if e.cancelOnChange != nil {
		e.cancelOnChange()
	}
}

// State 현재 모드와 하위 모드
func (e *Engine) State() (Mode, SubMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.mode, e.s.sub
}

// Stats 카운터 스냅샷
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
