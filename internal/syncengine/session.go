package syncengine

import "whiteboard-backend/internal/canvas"

// Mode 세션 상태
type Mode int

const (
	ModeIdle Mode = iota
	ModeLoading
	ModeReady
	ModeClosed
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeLoading:
		return "loading"
	case ModeReady:
		return "ready"
	case ModeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SubMode Ready 상태의 하위 상태
type SubMode int

const (
	SubSteady SubMode = iota
	SubApplyingRemote
	SubDirty
)

func (s SubMode) String() string {
	switch s {
	case SubSteady:
		return "steady"
	case SubApplyingRemote:
		return "applying_remote"
	case SubDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// known 마지막으로 적용했거나 전송한 캔버스 내용
type known struct {
	drawing canvas.Drawing
	set     bool
}

// session 클라이언트 세션 상태. 아래 전이 함수로만 바꾼다.
// gen은 lastKnown이 바뀔 때마다 증가하며, 늦게 도착한 전송 결과를 걸러내는 데 쓴다.
type session struct {
	mode      Mode
	sub       SubMode
	lastKnown known
	gen       uint64
	// 원격 로드 중 들어온 로컬 변경 알림
	localPending bool
}

func (s session) beginLoad() session {
	s.mode = ModeLoading
	s.sub = SubSteady
	return s
}

func (s session) loadFailed() session {
	s.mode = ModeIdle
	s.localPending = false
	return s
}

func (s session) ready(initial known) session {
	s.mode = ModeReady
	s.sub = SubSteady
	s.lastKnown = initial
	s.gen++
	return s
}

// isEcho 구조적으로 lastKnown과 같은지 여부
func (s session) isEcho(d canvas.Drawing) bool {
	return s.lastKnown.set && canvas.Equal(s.lastKnown.drawing, d)
}

// applyRemote 원격 스냅샷 로드 시작. 이전 값은 로드 실패 시 복구용으로 반환한다.
func (s session) applyRemote(d canvas.Drawing) (session, known) {
	prev := s.lastKnown
	s.sub = SubApplyingRemote
	s.lastKnown = known{drawing: d.Clone(), set: true}
	s.gen++
	return s, prev
}

// deferLocal 로드 중(초기 로드 포함)의 로컬 변경은 로드가 끝난 뒤 다시 검사한다
func (s session) deferLocal() session {
	s.localPending = true
	return s
}

// takeDeferred 보류된 로컬 변경이 있었는지 반환하고 지운다
func (s session) takeDeferred() (session, bool) {
	pending := s.localPending
	s.localPending = false
	return s, pending
}

// remoteApplied 로드 완료. 보류된 로컬 변경이 있었는지 함께 반환한다.
func (s session) remoteApplied() (session, bool) {
	s.sub = SubSteady
	return s.takeDeferred()
}

func (s session) remoteFailed(gen uint64, prev known) session {
	s.sub = SubSteady
	s.localPending = false
	if s.gen == gen {
		s.lastKnown = prev
	}
	return s
}

// markDirty 로컬 변경 기록. 쓰기를 보내기 전에 lastKnown을 먼저 갱신한다.
func (s session) markDirty(d canvas.Drawing) (session, known) {
	prev := s.lastKnown
	s.sub = SubDirty
	s.lastKnown = known{drawing: d.Clone(), set: true}
	s.gen++
	return s, prev
}

func (s session) sendSucceeded(gen uint64) session {
	if s.gen == gen && s.sub == SubDirty {
		s.sub = SubSteady
	}
	return s
}

// sendFailed 그 사이 새 전이가 없었다면 lastKnown을 되돌려 다음 감지 때 재전송되게 한다.
func (s session) sendFailed(gen uint64, prev known) session {
	if s.gen != gen {
		return s
	}
	s.lastKnown = prev
	if s.sub == SubDirty {
		s.sub = SubSteady
	}
	return s
}

func (s session) close() session {
	s.mode = ModeClosed
	s.sub = SubSteady
	s.localPending = false
	return s
}
