package model

// JoinResult 멤버 초대 결과
type JoinResult string

const (
	JoinResultJoined        JoinResult = "joined"
	JoinResultAlreadyMember JoinResult = "already_member"
	JoinResultRoomNotFound  JoinResult = "room_not_found"
)

// String 메서드
func (j JoinResult) String() string {
	return string(j)
}

// EventType 라이브 구독 이벤트 타입
type EventType string

const (
	EventCanvasUpdated EventType = "canvas_updated"
	EventRoomDeleted   EventType = "room_deleted"
)

func (e EventType) String() string {
	return string(e)
}

// AllModels AutoMigrate 대상 모델 목록
func AllModels() []any {
	return []any{
		&Room{},
		&RoomMember{},
		&CanvasSnapshot{},
	}
}
