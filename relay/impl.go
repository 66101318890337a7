package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/msgrelay/chunker"
	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/signature"
	"github.com/ceyewan/msgrelay/xerrors"
)

// pipeline 编排流水线实现（非导出）
type pipeline struct {
	cfg      *Config
	deps     *Deps
	splitter *chunker.Chunker
	logger   clog.Logger

	// 指标
	eventsCounter   metrics.Counter
	messagesCounter metrics.Counter
	chunksCounter   metrics.Counter
	durationHist    metrics.Histogram
}

// newPipeline 创建流水线实例（内部函数）
// 注意：cfg 已在 New() 中设置了默认值，deps 已校验
func newPipeline(cfg *Config, deps *Deps, splitter *chunker.Chunker, logger clog.Logger, meter metrics.Meter) (Pipeline, error) {
	p := &pipeline{
		cfg:      cfg,
		deps:     deps,
		splitter: splitter,
		logger:   logger,
	}

	if meter != nil {
		p.eventsCounter, _ = meter.Counter(MetricEventsTotal, "Inbound events by outcome", LabelOutcome, LabelStage)
		p.messagesCounter, _ = meter.Counter(MetricMessagesTotal, "Processed messages by outcome", LabelOutcome, LabelFallback)
		p.chunksCounter, _ = meter.Counter(MetricChunksSentTotal, "Outbound chunks delivered")
		p.durationHist, _ = meter.Histogram(MetricPipelineDuration, "Pipeline duration in seconds", LabelOutcome)
	}

	return p, nil
}

// Process 驱动一个入站事件走完状态机
func (p *pipeline) Process(ctx context.Context, inbound *Inbound) *Result {
	start := time.Now()

	res := &Result{EventID: inbound.EventID, State: StateReceived}
	if res.EventID == "" {
		res.EventID = uuid.NewString()
	}
	logger := p.logger.With(clog.String("event_id", res.EventID))

	// RECEIVED → RATE_CHECKED：限流在签名校验与一切副作用之前
	if err := p.rateCheck(ctx, inbound, logger); err != nil {
		return p.finish(ctx, res, StateReceived, err, start)
	}
	res.State = StateRateChecked

	// RATE_CHECKED → AUTHENTICATED
	if err := p.authenticate(inbound, logger); err != nil {
		return p.finish(ctx, res, StateRateChecked, err, start)
	}
	res.State = StateAuthenticated

	// AUTHENTICATED → NORMALIZED
	msgs, err := p.deps.Normalizer.Normalize(inbound.RawBody)
	if err != nil {
		return p.finish(ctx, res, StateAuthenticated, xerrors.Wrap(xerrors.Join(ErrNormalization, err), "normalize"), start)
	}
	res.State = StateNormalized

	if len(msgs) == 0 {
		logger.Debug("payload contains no processable messages")
		return p.finish(ctx, res, StateDone, nil, start)
	}

	// 逐条独立处理：单条失败不影响兄弟消息
	var errs []error
	for _, msg := range msgs {
		mr := p.processMessage(ctx, logger, msg)
		res.Messages = append(res.Messages, mr)
		if mr.Err != nil {
			errs = append(errs, mr.Err)
		}
	}

	if len(errs) > 0 {
		return p.finish(ctx, res, StateReplied, xerrors.Join(errs...), start)
	}
	return p.finish(ctx, res, StateDone, nil, start)
}

// rateCheck 限流判定，限流器自身故障不阻断请求路径
func (p *pipeline) rateCheck(ctx context.Context, inbound *Inbound, logger clog.Logger) error {
	if p.deps.Limiter == nil || p.cfg.RateLimit.Requests <= 0 || p.cfg.RateLimit.Window <= 0 {
		return nil
	}

	key := "ip:" + inbound.RemoteIP
	decision, err := p.deps.Limiter.Allow(ctx, key, p.cfg.RateLimit)
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing request",
			clog.String("key", key),
			clog.Error(err))
		return nil
	}
	if !decision.Allowed {
		return xerrors.Wrapf(ErrRateLimited, "key %s, retry after %s", key, decision.RetryAfter)
	}
	return nil
}

// authenticate 签名校验
//
// 密钥未配置是配置错误而非签名拒绝：按部署策略放行告警或拒绝。
func (p *pipeline) authenticate(inbound *Inbound, logger clog.Logger) error {
	if p.deps.Validator == nil {
		return nil
	}

	err := p.deps.Validator.Verify(inbound.RawBody, inbound.Signature)
	switch {
	case err == nil:
		return nil
	case xerrors.Is(err, signature.ErrNoSecret) && p.cfg.AllowOnNoSecret:
		logger.Warn("signature secret not configured, allowing request per policy")
		return nil
	default:
		return xerrors.Wrap(xerrors.Join(ErrSignatureRejected, err), "authenticate")
	}
}

// processMessage 处理单条消息：转发后端，回复通道
func (p *pipeline) processMessage(ctx context.Context, logger clog.Logger, msg Message) MessageResult {
	mr := MessageResult{UserID: msg.UserID, State: StateNormalized}
	logger = logger.With(clog.String("user_id", msg.UserID))

	answer, usedFallback := p.forward(ctx, logger, msg)
	mr.Fallback = usedFallback
	mr.State = StateForwarded

	sent, total, err := p.reply(ctx, logger, msg, answer)
	mr.ChunksSent = sent
	mr.ChunksTotal = total
	if err != nil {
		mr.State = StateFailed
		mr.Err = err
	} else {
		mr.State = StateDone
	}

	if p.messagesCounter != nil {
		outcome := "done"
		if mr.Err != nil {
			outcome = "failed"
		}
		p.messagesCounter.Inc(ctx,
			metrics.L(LabelOutcome, outcome),
			metrics.L(LabelFallback, strconv.FormatBool(usedFallback)))
	}
	return mr
}

// forward 经熔断器 + 重试执行器调用后端查询
//
// 熔断打开或调用最终失败时返回兜底回答，流水线继续而非中断。
func (p *pipeline) forward(ctx context.Context, logger clog.Logger, msg Message) (answer string, usedFallback bool) {
	result := p.deps.Breaker.ExecuteWithFallback(ctx, p.cfg.BackendKey,
		func(ctx context.Context) (any, error) {
			return p.deps.Retry.Do(ctx, "backend.query", func(ctx context.Context) (any, error) {
				return p.deps.Query.Query(ctx, msg)
			}, p.cfg.QueryPolicy)
		},
		func(ctx context.Context, key string, err error) any {
			usedFallback = true
			logger.Warn("backend unavailable, using fallback answer",
				clog.String("key", key),
				clog.Error(err))
			return p.cfg.FallbackAnswer
		})

	answer, ok := result.(string)
	if !ok || answer == "" {
		// 空回答按兜底处理，避免向通道发送空消息
		usedFallback = true
		answer = p.cfg.FallbackAnswer
	}
	return answer, usedFallback
}

// reply 回复通道：超长回答分段后按序发送，段间固定延迟
//
// 某段经重试仍失败时中止剩余段，报告部分投递失败。
// 返回成功发出的段数、计划段数与错误。
func (p *pipeline) reply(ctx context.Context, logger clog.Logger, msg Message, answer string) (sent, total int, err error) {
	chunks := []string{answer}
	if !p.cfg.DisableChunking && len([]rune(answer)) > p.cfg.ChunkMaxLength {
		chunks = p.splitter.Split(answer)
		logger.Info("answer exceeds channel limit, chunking",
			clog.Int("answer_chars", len([]rune(answer))),
			clog.Int("chunks", len(chunks)))
	}

	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-time.After(p.cfg.InterChunkDelay):
			case <-ctx.Done():
				return i, len(chunks), xerrors.Wrapf(ErrPartialDelivery,
					"sent %d/%d chunks: %v", i, len(chunks), ctx.Err())
			}
		}

		_, sendErr := p.deps.Retry.Do(ctx, "channel.send", func(ctx context.Context) (any, error) {
			return nil, p.deps.Channel.Send(ctx, msg.UserID, chunk)
		}, p.cfg.SendPolicy)
		if sendErr != nil {
			return i, len(chunks), xerrors.Wrapf(ErrPartialDelivery,
				"sent %d/%d chunks: %v", i, len(chunks), sendErr)
		}

		if p.chunksCounter != nil {
			p.chunksCounter.Inc(ctx)
		}
	}
	return len(chunks), len(chunks), nil
}

// finish 记录终态日志与指标并返回结果
func (p *pipeline) finish(ctx context.Context, res *Result, stage State, err error, start time.Time) *Result {
	if err != nil {
		res.State = StateFailed
		res.Err = err
	} else {
		res.State = StateDone
	}

	logger := p.logger.With(clog.String("event_id", res.EventID))
	if err != nil {
		logger.Warn("pipeline failed",
			clog.String("stage", stage.String()),
			clog.Duration("elapsed", time.Since(start)),
			clog.Error(err))
	} else {
		logger.Info("pipeline done",
			clog.Int("messages", len(res.Messages)),
			clog.Duration("elapsed", time.Since(start)))
	}

	if p.eventsCounter != nil {
		p.eventsCounter.Inc(ctx,
			metrics.L(LabelOutcome, res.State.String()),
			metrics.L(LabelStage, stage.String()))
	}
	if p.durationHist != nil {
		p.durationHist.Record(ctx, time.Since(start).Seconds(), metrics.L(LabelOutcome, res.State.String()))
	}
	return res
}
