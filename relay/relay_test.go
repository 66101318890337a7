package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/msgrelay/breaker"
	"github.com/ceyewan/msgrelay/ratelimit"
	"github.com/ceyewan/msgrelay/retry"
	"github.com/ceyewan/msgrelay/signature"
	"github.com/ceyewan/msgrelay/xerrors"
)

// ========================================
// 测试替身 (Test Doubles)
// ========================================

type fakeNormalizer struct {
	msgs []Message
	err  error
}

func (f *fakeNormalizer) Normalize(raw []byte) ([]Message, error) {
	return f.msgs, f.err
}

type fakeQuery struct {
	mu     sync.Mutex
	calls  int
	answer string
	err    error
}

func (f *fakeQuery) Query(ctx context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.answer, f.err
}

func (f *fakeQuery) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentItem struct {
	recipient string
	text      string
	at        time.Time
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []sentItem
	failAt int             // 第 failAt 次 Send 失败（1 起），0 表示不失败
	failTo map[string]bool // 指定接收者的 Send 全部失败
	err    error
}

func (f *fakeChannel) Send(ctx context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.sent) + 1
	if f.failAt > 0 && call >= f.failAt {
		return f.err
	}
	if f.failTo[recipient] {
		return f.err
	}
	f.sent = append(f.sent, sentItem{recipient: recipient, text: text, at: time.Now()})
	return nil
}

func (f *fakeChannel) sentItems() []sentItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentItem, len(f.sent))
	copy(out, f.sent)
	return out
}

// ========================================
// 构造辅助 (Helpers)
// ========================================

func newTestPipeline(t *testing.T, cfg *Config, deps *Deps) Pipeline {
	t.Helper()

	if deps.Normalizer == nil {
		deps.Normalizer = &fakeNormalizer{msgs: []Message{{UserID: "u1", Text: "Hello"}}}
	}
	if deps.Query == nil {
		deps.Query = &fakeQuery{answer: "Hi"}
	}
	if deps.Channel == nil {
		deps.Channel = &fakeChannel{}
	}

	p, err := New(cfg, deps)
	require.NoError(t, err)
	return p
}

func testConfig() *Config {
	return &Config{
		InterChunkDelay: 10 * time.Millisecond,
		QueryPolicy:     retry.Policy{MaxRetries: 0},
		SendPolicy:      retry.Policy{MaxRetries: 0, Delay: time.Millisecond},
	}
}

func TestNew(t *testing.T) {
	t.Run("必填协作方缺失返回错误", func(t *testing.T) {
		_, err := New(nil, &Deps{})
		assert.ErrorIs(t, err, ErrDepsIncomplete)
	})
}

// ========================================
// 端到端场景 (End-to-End Scenarios)
// ========================================

func TestProcess_HappyPath(t *testing.T) {
	query := &fakeQuery{answer: "Hi"}
	channel := &fakeChannel{}
	p := newTestPipeline(t, testConfig(), &Deps{
		Normalizer: &fakeNormalizer{msgs: []Message{{UserID: "u1", Text: "Hello"}}},
		Query:      query,
		Channel:    channel,
	})

	res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})

	assert.Equal(t, StateDone, res.State)
	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.EventID)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, StateDone, res.Messages[0].State)
	assert.False(t, res.Messages[0].Fallback)
	assert.Equal(t, 1, res.Messages[0].ChunksSent)

	sent := channel.sentItems()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi", sent[0].text)
	assert.Equal(t, "u1", sent[0].recipient)
	assert.Equal(t, 1, query.callCount())
}

func TestProcess_BreakerOpenUsesFallback(t *testing.T) {
	brk, err := breaker.New(&breaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	require.NoError(t, err)

	// 预先熔断后端
	_, err = brk.Execute(context.Background(), "backend", func(ctx context.Context) (any, error) {
		return nil, xerrors.New("backend down")
	})
	require.Error(t, err)
	require.Equal(t, breaker.StateOpen, brk.State("backend"))

	query := &fakeQuery{answer: "never"}
	channel := &fakeChannel{}
	p := newTestPipeline(t, testConfig(), &Deps{
		Normalizer: &fakeNormalizer{msgs: []Message{{UserID: "u1", Text: "Hello"}}},
		Query:      query,
		Channel:    channel,
		Breaker:    brk,
	})

	res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})

	// 熔断打开不中断流水线：兜底回答照常送达
	assert.Equal(t, StateDone, res.State)
	require.Len(t, res.Messages, 1)
	assert.True(t, res.Messages[0].Fallback)
	assert.Equal(t, 0, query.callCount(), "熔断打开时不应触达受保护调用")

	sent := channel.sentItems()
	require.Len(t, sent, 1)
	assert.Equal(t, "The service is busy right now, please try again later.", sent[0].text)
}

func TestProcess_LongAnswerChunked(t *testing.T) {
	longAnswer := strings.Repeat("All work and no play makes a dull relay. ", 120) // ~5000 字符
	require.Greater(t, len(longAnswer), 4096)

	t.Run("5000 字符回答切成两段按序发送", func(t *testing.T) {
		channel := &fakeChannel{}
		p := newTestPipeline(t, testConfig(), &Deps{
			Query:   &fakeQuery{answer: longAnswer},
			Channel: channel,
		})

		res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})
		require.Equal(t, StateDone, res.State)

		sent := channel.sentItems()
		require.Len(t, sent, 2)
		assert.True(t, strings.HasPrefix(sent[0].text, "[Part 1/2] "))
		assert.True(t, strings.HasPrefix(sent[1].text, "[Part 2/2] "))
		assert.GreaterOrEqual(t, sent[1].at.Sub(sent[0].at), 10*time.Millisecond, "段间应有发送延迟")
	})

	t.Run("第二段发送失败报告部分投递", func(t *testing.T) {
		channel := &fakeChannel{failAt: 2, err: xerrors.New("send refused")}
		p := newTestPipeline(t, testConfig(), &Deps{
			Query:   &fakeQuery{answer: longAnswer},
			Channel: channel,
		})

		res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})

		require.Equal(t, StateFailed, res.State)
		assert.ErrorIs(t, res.Err, ErrPartialDelivery)
		require.Len(t, res.Messages, 1)
		assert.Equal(t, 1, res.Messages[0].ChunksSent)
		assert.Equal(t, 2, res.Messages[0].ChunksTotal)
		assert.Len(t, channel.sentItems(), 1)
	})
}

// ========================================
// 状态机分支 (State Machine Branches)
// ========================================

func TestProcess_RateLimited(t *testing.T) {
	limiter, err := ratelimit.NewStandalone(nil)
	require.NoError(t, err)
	defer limiter.Close()

	cfg := testConfig()
	cfg.RateLimit = ratelimit.Limit{Requests: 1, Window: time.Minute}

	query := &fakeQuery{answer: "Hi"}
	p := newTestPipeline(t, cfg, &Deps{
		Query:   query,
		Limiter: limiter,
	})

	inbound := &Inbound{RemoteIP: "1.2.3.4", RawBody: []byte(`{}`)}
	first := p.Process(context.Background(), inbound)
	require.Equal(t, StateDone, first.State)

	second := p.Process(context.Background(), inbound)
	assert.Equal(t, StateFailed, second.State)
	assert.ErrorIs(t, second.Err, ErrRateLimited)
	// 限流拒绝发生在一切副作用之前：后端只被第一个事件触达
	assert.Equal(t, 1, query.callCount())
}

func TestProcess_SignatureRejected(t *testing.T) {
	validator, err := signature.New(&signature.Config{Secret: "top-secret"})
	require.NoError(t, err)

	body := []byte(`{"message":"hello"}`)
	query := &fakeQuery{answer: "Hi"}

	t.Run("签名有效正常处理", func(t *testing.T) {
		header, err := validator.Sign(body)
		require.NoError(t, err)

		p := newTestPipeline(t, testConfig(), &Deps{Query: query, Validator: validator})
		res := p.Process(context.Background(), &Inbound{RawBody: body, Signature: header})
		assert.Equal(t, StateDone, res.State)
	})

	t.Run("签名无效在任何副作用前拒绝", func(t *testing.T) {
		before := query.callCount()

		p := newTestPipeline(t, testConfig(), &Deps{Query: query, Validator: validator})
		res := p.Process(context.Background(), &Inbound{RawBody: body, Signature: "sha256=deadbeef"})

		assert.Equal(t, StateFailed, res.State)
		assert.ErrorIs(t, res.Err, ErrSignatureRejected)
		assert.Equal(t, before, query.callCount())
	})
}

func TestProcess_NoSecretPolicy(t *testing.T) {
	validator, err := signature.New(nil)
	require.NoError(t, err)

	t.Run("默认拒绝", func(t *testing.T) {
		p := newTestPipeline(t, testConfig(), &Deps{Validator: validator})
		res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})
		assert.Equal(t, StateFailed, res.State)
	})

	t.Run("策略放行并告警", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowOnNoSecret = true
		p := newTestPipeline(t, cfg, &Deps{Validator: validator})
		res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})
		assert.Equal(t, StateDone, res.State)
	})
}

func TestProcess_NormalizationFailed(t *testing.T) {
	query := &fakeQuery{answer: "Hi"}
	p := newTestPipeline(t, testConfig(), &Deps{
		Normalizer: &fakeNormalizer{err: xerrors.New("malformed payload")},
		Query:      query,
	})

	res := p.Process(context.Background(), &Inbound{RawBody: []byte(`not json`)})

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrNormalization)
	assert.Equal(t, 0, query.callCount(), "归一化失败不应触达后端")
}

func TestProcess_EmptyPayload(t *testing.T) {
	p := newTestPipeline(t, testConfig(), &Deps{
		Normalizer: &fakeNormalizer{msgs: nil},
	})

	res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, res.Messages)
}

func TestProcess_MessageIndependence(t *testing.T) {
	channel := &fakeChannel{
		failTo: map[string]bool{"u2": true},
		err:    xerrors.New("recipient unreachable"),
	}
	p := newTestPipeline(t, testConfig(), &Deps{
		Normalizer: &fakeNormalizer{msgs: []Message{
			{UserID: "u1", Text: "first"},
			{UserID: "u2", Text: "second"},
			{UserID: "u3", Text: "third"},
		}},
		Channel: channel,
	})

	res := p.Process(context.Background(), &Inbound{RawBody: []byte(`{}`)})

	// 单条失败不影响兄弟消息：u1、u3 照常送达
	require.Len(t, res.Messages, 3)
	assert.Equal(t, StateDone, res.Messages[0].State)
	assert.Equal(t, StateFailed, res.Messages[1].State)
	assert.Equal(t, StateDone, res.Messages[2].State)
	assert.Equal(t, StateFailed, res.State)

	sent := channel.sentItems()
	require.Len(t, sent, 2)
	assert.Equal(t, "u1", sent[0].recipient)
	assert.Equal(t, "u3", sent[1].recipient)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(200))
	assert.NoError(t, Classify(204))
	assert.ErrorIs(t, Classify(429), ErrRateLimited)
	assert.ErrorIs(t, Classify(404), ErrClient)
	assert.ErrorIs(t, Classify(500), ErrServer)
	assert.ErrorIs(t, Classify(503), ErrServer)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(Classify(400)))
	assert.False(t, Retryable(xerrors.Join(ErrNormalization, xerrors.New("bad"))))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(Classify(500)))
	assert.True(t, Retryable(Classify(429)))
	assert.True(t, Retryable(retry.ErrTimeout))
	assert.True(t, Retryable(ErrTransientNetwork))
	assert.True(t, Retryable(xerrors.New("unknown flake")))
}
