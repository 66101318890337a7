// Package platform 提供消息平台的接入适配：入站事件归一化与出站消息发送。
//
// platform 是 msgrelay 的边界层，它提供了：
// - Normalizer：将平台 webhook 原始负载解析为规范消息序列，
//   多消息负载逐条展开，非文本事件（附件、回执、回声）跳过
// - ChannelClient：经平台开放接口发送文本消息，带硬长度校验
//   与令牌桶出站节流（golang.org/x/time/rate）
//
// 两者分别实现 relay.Normalizer 与 relay.ChannelClient，平台细节
// 不泄漏到编排层。
package platform

import "github.com/ceyewan/msgrelay/xerrors"

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("platform: config is nil")

	// ErrBaseURLEmpty 平台接口地址未配置
	ErrBaseURLEmpty = xerrors.New("platform: base url is empty")

	// ErrMalformedEvent 入站负载无法解析
	ErrMalformedEvent = xerrors.New("platform: malformed event payload")

	// ErrUnsupportedEvent 入站负载不是本服务订阅的事件类型
	ErrUnsupportedEvent = xerrors.New("platform: unsupported event object")

	// ErrTextTooLong 出站文本超过通道硬性长度上限
	ErrTextTooLong = xerrors.New("platform: text exceeds hard length limit")
)
