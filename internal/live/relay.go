package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Channel Redis pub/sub 채널 이름
const Channel = "canvas_updates"

// RedisRelay 서버 인스턴스 간 이벤트 중계
// Publish는 Redis로만 보내고, Run이 받은 메시지를 로컬 Hub로 넘긴다.
// 자기 자신이 보낸 메시지도 구독으로 돌아오므로 로컬 구독자는 정확히 한 번 받는다.
type RedisRelay struct {
	client redis.UniversalClient
	hub    *Hub
}

// NewRedisRelay 생성자
func NewRedisRelay(client redis.UniversalClient, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
	}
}

// Publish 이벤트를 Redis 채널로 발행
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Run ctx가 끝날 때까지 Redis 구독 메시지를 로컬 Hub로 전달
// ready는 구독이 확정된 뒤 닫힌다 (nil 가능).
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	// 구독 확인 응답을 받아야 이후 발행을 놓치지 않는다
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	if ready != nil {
		close(ready)
	}
	log.Printf("[LiveRelay] Subscribed to %s", Channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[LiveRelay] Stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[LiveRelay] Dropping malformed message: %v", err)
				continue
			}
			_ = r.hub.Publish(ctx, ev)
		}
	}
}
