package live

// WebSocket 메시지 타입
const (
	// server → client
	MsgSnapshot    = "snapshot"
	MsgAck         = "ack"
	MsgError       = "error"
	MsgRoomDeleted = "room_deleted"
	MsgPong        = "pong"

	// client → server
	MsgUpdate = "update"
	MsgPing   = "ping"
)

// Message 캔버스 WebSocket 프레임
// snapshot 메시지의 SaveData가 nil이면 아직 그려지지 않은 방이다.
type Message struct {
	Type       string  `json:"type"`
	RoomID     string  `json:"roomId,omitempty"`
	SnapshotID int64   `json:"snapshotId,omitempty"`
	SaveData   *string `json:"saveData,omitempty"`
	Author     string  `json:"author,omitempty"`
	RequestID  string  `json:"requestId,omitempty"`
	Error      string  `json:"error,omitempty"`
	Code       string  `json:"code,omitempty"`
}
