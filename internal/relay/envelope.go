package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// ID 集群内唯一的消息标识
type ID struct {
	NodeID string `json:"node_id"`
	Seq    uint64 `json:"seq"`
}

// String 返回消息ID的字符串表示
func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.NodeID, id.Seq)
}

// Envelope 在总线上传输的聊天消息
type Envelope struct {
	ID      ID        `json:"id"`
	Payload string    `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// Marshal 编码为JSON
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope 解码总线消息，缺少ID的消息视为无效
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if e.ID.NodeID == "" || e.ID.Seq == 0 {
		return Envelope{}, fmt.Errorf("%w: missing id", ErrBadEnvelope)
	}
	return e, nil
}
