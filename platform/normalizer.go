package platform

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/ceyewan/msgrelay/relay"
	"github.com/ceyewan/msgrelay/xerrors"
)

// envelope 平台 webhook 事件信封
//
// 一次投递可能携带多个 entry，每个 entry 又可能携带多条消息。
type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string          `json:"id"`
	Time      int64           `json:"time"`
	Messaging []messagingItem `json:"messaging"`
}

type messagingItem struct {
	Sender    participant `json:"sender"`
	Recipient participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

type participant struct {
	ID string `json:"id"`
}

// normalizer 入站事件归一化器实现（非导出）
type normalizer struct{}

// NewNormalizer 创建入站事件归一化器
//
// 负载整体畸形返回错误；单条非文本事件（附件、投递回执、机器人
// 自己的回声）静默跳过，不影响同负载内的其他消息。
func NewNormalizer() relay.Normalizer {
	return &normalizer{}
}

// Normalize 解析 webhook 原始负载为规范消息序列
func (n *normalizer) Normalize(rawEvent []byte) ([]relay.Message, error) {
	var env envelope
	if err := json.Unmarshal(rawEvent, &env); err != nil {
		return nil, xerrors.Wrapf(ErrMalformedEvent, "unmarshal: %v", err)
	}
	if env.Object != "page" {
		return nil, xerrors.Wrapf(ErrUnsupportedEvent, "object %q", env.Object)
	}

	var msgs []relay.Message
	for _, e := range env.Entry {
		for _, item := range e.Messaging {
			if item.Message == nil || item.Message.IsEcho || item.Message.Text == "" {
				continue
			}
			msgs = append(msgs, relay.Message{
				UserID:    item.Sender.ID,
				Channel:   item.Recipient.ID,
				Text:      item.Message.Text,
				Timestamp: time.UnixMilli(item.Timestamp),
				Metadata: map[string]string{
					"mid":        item.Message.MID,
					"entry_id":   e.ID,
					"entry_time": strconv.FormatInt(e.Time, 10),
				},
			})
		}
	}
	return msgs, nil
}
