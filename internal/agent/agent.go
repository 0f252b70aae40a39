package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"StayRelay/internal/catalog"
	"StayRelay/internal/dispatch"
	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/intent"
	"StayRelay/internal/llm"
	"StayRelay/internal/notify"
	"StayRelay/internal/observability/alerting"
	"StayRelay/internal/observability/metrics"
	"StayRelay/internal/session"
	"StayRelay/internal/stream"
	"StayRelay/internal/task"
	"StayRelay/internal/web3"
	"StayRelay/pkg/logger"
)

const (
	// CodeClassifierFailure 表示分类器调用失败，执行器会降级为对话回复。
	CodeClassifierFailure xerrors.Code = "CLASSIFIER_FAILURE"

	placeholderProcessing = "processing…"
	placeholderRouting    = "routing…"

	failureMessage     = "Sorry, something went wrong while handling your request. Please try again."
	interruptedMessage = "The hotel's assistant stopped before finishing its answer. Please ask again if you need more details."
)

func init() {
	xerrors.Register(CodeClassifierFailure, xerrors.Attributes{
		Message:     "classifier unavailable",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
		Alert:       true,
	})
}

// Dispatcher 把任务转发给租户代理并转发其事件流。
type Dispatcher interface {
	Dispatch(ctx context.Context, targetID string, msg stream.Message, sink stream.Sink) (dispatch.Result, error)
}

// Agent 是路由的任务执行器，每次 Execute 处理一个任务。
type Agent struct {
	classifier llm.Client
	catalog    catalog.Store
	sessions   session.Store
	dispatcher Dispatcher
	ledger     web3.Client
	publisher  notify.Publisher
	tasks      task.Store
	alerts     alerting.Dispatcher
	llmTimeout time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithSessionStore 设置会话记忆。
func WithSessionStore(store session.Store) Option {
	return func(a *Agent) {
		a.sessions = store
	}
}

// WithDispatcher 设置跨服务转发器。
func WithDispatcher(d Dispatcher) Option {
	return func(a *Agent) {
		a.dispatcher = d
	}
}

// WithLedger 设置用于报价的链上客户端。
func WithLedger(client web3.Client) Option {
	return func(a *Agent) {
		a.ledger = client
	}
}

// WithPublisher 设置领域事件发布器。
func WithPublisher(publisher notify.Publisher) Option {
	return func(a *Agent) {
		a.publisher = publisher
	}
}

// WithTaskStore 设置任务记录存储。
func WithTaskStore(store task.Store) Option {
	return func(a *Agent) {
		a.tasks = store
	}
}

// WithAlerts 设置告警分发器。
func WithAlerts(alerts alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = alerts
	}
}

// WithLLMTimeout 设置单次分类调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// New 创建一个 Agent。未配置会话记忆时使用默认窗口的内存实现。
func New(classifier llm.Client, store catalog.Store, opts ...Option) *Agent {
	ag := &Agent{
		classifier: classifier,
		catalog:    store,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.sessions == nil {
		ag.sessions = session.NewMemoryStore(session.DefaultWindow)
	}
	return ag
}

// execution 保存一次任务执行期间的可变状态，只在执行 goroutine 内使用。
type execution struct {
	req   TaskRequest
	sink  *stream.Guard
	log   *slog.Logger
	reply *Reply
	// hotels 是本次任务看到的目录快照。
	hotels     []catalog.Hotel
	dispatched bool
}

// Execute 执行一个任务并把事件写入 sink。无论发生什么，sink 上恰好出现一个 final 事件
// （下游断开导致写入失败的情况除外）。只有未预期的错误和重复的任务 ID 会产生 failed 事件，
// 此时返回该错误。
func (a *Agent) Execute(ctx context.Context, req TaskRequest, sink stream.Sink) (outcome *Outcome, err error) {
	req = req.normalize()
	log := logger.ForTask("agent", req.TaskID, req.ContextID)

	if a.tasks != nil {
		record := &task.Task{ID: req.TaskID, ContextID: req.ContextID, InputText: req.Text()}
		if createErr := a.tasks.Create(ctx, record); createErr != nil {
			if stdErrors.Is(createErr, task.ErrTaskConflict) {
				return a.reject(ctx, req, sink, log, createErr)
			}
			log.Warn("创建任务记录失败", slog.Any("error", createErr))
		}
		sink = task.NewTracker(a.tasks, req.TaskID, sink)
	}

	exec := &execution{req: req, sink: stream.NewGuard(sink), log: log}

	defer func() {
		if r := recover(); r != nil {
			log.Error("任务执行出现 panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = xerrors.New(task.CodeTaskExecutionFailed, "unexpected executor failure")
		}
		outcome = a.finish(ctx, exec, err)
	}()

	return nil, a.run(ctx, exec)
}

// reject 拒绝复用已存在任务 ID 的请求：只写出一个 failed 事件，不执行也不修改已有记录。
func (a *Agent) reject(ctx context.Context, req TaskRequest, sink stream.Sink, log *slog.Logger, cause error) (*Outcome, error) {
	log.Warn("任务 ID 已被占用", slog.Any("error", cause))
	exec := &execution{req: req, sink: stream.NewGuard(sink), log: log}
	a.emitFailure(ctx, exec, cause)
	metrics.ObserveTask(string(intent.CategoryConversation), string(stream.StateFailed))
	return &Outcome{TaskID: req.TaskID, ContextID: req.ContextID, State: stream.StateFailed}, cause
}

// finish 在执行结束时补发 failed 事件、更新记录并上报指标。
func (a *Agent) finish(ctx context.Context, exec *execution, runErr error) *Outcome {
	outcome := &Outcome{
		TaskID:     exec.req.TaskID,
		ContextID:  exec.req.ContextID,
		State:      stream.StateCompleted,
		Dispatched: exec.dispatched,
		Reply:      exec.reply,
	}
	category := string(intent.CategoryConversation)
	if exec.reply != nil {
		category = string(exec.reply.Category)
	}

	if runErr != nil {
		outcome.State = stream.StateFailed
		exec.log.Error("任务执行失败", slog.Any("error", runErr))
		if !exec.sink.Finalized() {
			a.emitFailure(ctx, exec, runErr)
		}
		a.alert(ctx, exec, runErr, "")
	}

	if a.tasks != nil {
		code := ""
		if runErr != nil {
			code = string(xerrors.CodeOf(runErr))
		}
		targetID := ""
		if exec.reply != nil {
			targetID = exec.reply.EntityID()
		}
		if _, updateErr := a.tasks.Update(context.WithoutCancel(ctx), exec.req.TaskID, func(t *task.Task) {
			t.Category = category
			t.Dispatched = exec.dispatched
			t.TargetID = targetID
			if code != "" {
				t.ErrorCode = code
			}
		}); updateErr != nil {
			exec.log.Warn("更新任务记录失败", slog.Any("error", updateErr))
		}
	}

	metrics.ObserveTask(category, string(outcome.State))
	return outcome
}

func (a *Agent) run(ctx context.Context, exec *execution) error {
	placeholder := placeholderProcessing
	if exec.req.knownTarget() != "" {
		placeholder = placeholderRouting
	}
	if err := a.emit(ctx, exec, stream.StateWorking, placeholder, false); err != nil {
		return err
	}

	query := exec.req.Text()
	if query == "" {
		exec.reply = &Reply{Classification: intent.Classification{
			Category: intent.CategoryConversation,
			Message:  "Please tell me what you are looking for.",
		}}
		return a.complete(ctx, exec)
	}

	history := a.loadHistory(ctx, exec)
	exec.hotels = a.loadCatalog(ctx, exec)

	classification := a.classify(ctx, exec, llm.Request{
		Purpose: llm.PurposeIntent,
		History: history,
		Catalog: catalog.Summary(exec.hotels),
		Query:   query,
	})
	a.remember(ctx, exec, query, classification.Message)

	exec.reply = &Reply{Classification: classification}
	switch classification.Category {
	case intent.CategoryCatalogSearch:
		a.searchCatalog(ctx, exec)
	case intent.CategoryEntitySpecific:
		a.resolveEntity(exec)
	case intent.CategoryBookingConfirmation:
		a.confirmBooking(ctx, exec, history)
	case intent.CategoryConversation:
	default:
		exec.reply.Classification = classification.Demote(classification.Message)
	}

	if exec.reply.Category == intent.CategoryEntitySpecific && exec.reply.RequiresRouting {
		if done := a.dispatch(ctx, exec); done {
			return nil
		}
	}
	return a.complete(ctx, exec)
}

func (a *Agent) emit(ctx context.Context, exec *execution, state stream.State, text string, final bool) error {
	event := stream.NewStatusEvent(exec.req.TaskID, exec.req.ContextID, state, text, final)
	if err := exec.sink.Emit(ctx, event); err != nil {
		return xerrors.Wrap(task.CodeTaskExecutionFailed, err, "emit event failed")
	}
	return nil
}

func (a *Agent) complete(ctx context.Context, exec *execution) error {
	text, err := exec.reply.Encode()
	if err != nil {
		return xerrors.Wrap(task.CodeTaskExecutionFailed, err, "encode reply failed")
	}
	return a.emit(ctx, exec, stream.StateCompleted, text, true)
}

func (a *Agent) emitFailure(ctx context.Context, exec *execution, cause error) {
	public := xerrors.Public(cause)
	payload := failurePayload{
		Category: intent.CategoryConversation,
		Message:  failureMessage,
		Error:    failureDetail{Code: string(public.Code), Message: public.Message},
	}
	text, err := encodeJSON(payload)
	if err != nil {
		text = fmt.Sprintf(`{"category":"conversation","message":%q,"error":{"code":%q}}`, failureMessage, public.Code)
	}
	event := stream.NewStatusEvent(exec.req.TaskID, exec.req.ContextID, stream.StateFailed, text, true)
	if emitErr := exec.sink.Emit(context.WithoutCancel(ctx), event); emitErr != nil {
		exec.log.Warn("写出失败事件失败", slog.Any("error", emitErr))
	}
}

func (a *Agent) alert(ctx context.Context, exec *execution, err error, target string) {
	if a.alerts == nil {
		return
	}
	event, ok := alerting.FromError(err, exec.req.TaskID, exec.req.ContextID)
	if !ok {
		return
	}
	event.Target = target
	if notifyErr := a.alerts.Notify(context.WithoutCancel(ctx), event); notifyErr != nil {
		exec.log.Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}

func (a *Agent) loadHistory(ctx context.Context, exec *execution) string {
	turns, err := a.sessions.History(ctx, exec.req.ContextID)
	if err != nil {
		exec.log.Warn("加载会话记忆失败", slog.Any("error", err))
		return ""
	}
	return session.Render(turns)
}

func (a *Agent) remember(ctx context.Context, exec *execution, input, output string) {
	turn := session.Turn{Input: input, Output: output, At: time.Now().UTC()}
	if err := a.sessions.Append(ctx, exec.req.ContextID, turn); err != nil {
		exec.log.Warn("写入会话记忆失败", slog.Any("error", err))
	}
}

func (a *Agent) loadCatalog(ctx context.Context, exec *execution) []catalog.Hotel {
	if a.catalog == nil {
		return nil
	}
	hotels, err := a.catalog.All(ctx)
	if err != nil {
		exec.log.Warn("加载酒店目录失败", slog.Any("error", err))
		return nil
	}
	return hotels
}

// classify 调用分类器并解析意图。调用失败降级为道歉回复，解析失败降级为对话类别。
func (a *Agent) classify(ctx context.Context, exec *execution, req llm.Request) intent.Classification {
	raw, err := a.generate(ctx, req)
	if err != nil {
		exec.log.Warn("分类器调用失败", slog.Any("error", err))
		a.alert(ctx, exec, xerrors.Wrap(CodeClassifierFailure, err, "classifier unavailable"), "")
		metrics.ObserveClassification(string(req.Purpose), metrics.ClassificationUnavailable)
		return intent.Unavailable()
	}
	classification, ok := intent.Parse(raw)
	if !ok {
		exec.log.Info("分类结果无法解析，降级为对话", slog.Float64("confidence", classification.Confidence))
		metrics.ObserveClassification(string(req.Purpose), metrics.ClassificationFallback)
		return classification
	}
	metrics.ObserveClassification(string(req.Purpose), metrics.ClassificationParsed)
	return classification
}

func (a *Agent) generate(ctx context.Context, req llm.Request) (string, error) {
	if a.classifier == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置分类器")
	}
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	resp, err := a.classifier.Generate(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "分类器调用超时")
		}
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func (a *Agent) searchCatalog(ctx context.Context, exec *execution) {
	reply := exec.reply
	zero := 0
	if a.catalog == nil {
		reply.Message = "Sorry, hotel search is not available right now. Please try again later."
		reply.Metadata.TotalResults = &zero
		return
	}

	results, err := a.catalog.Search(ctx, reply.SearchParams, catalog.DefaultLimit)
	if err != nil {
		exec.log.Warn("酒店检索失败", slog.Any("error", err))
		reply.Message = "Sorry, I could not search the hotel catalog right now. Please try again in a moment."
		reply.Metadata.TotalResults = &zero
		return
	}

	total := len(results)
	summary := catalog.FormatResults(results)
	if reply.Message != "" {
		summary = reply.Message + "\n\n" + summary
	}
	reply.Message = summary
	reply.Hotels = results
	reply.Metadata.TotalResults = &total
}

// resolveEntity 把分类器给出的酒店名称匹配到目录条目，匹配失败则降级为对话。
func (a *Agent) resolveEntity(exec *execution) {
	reply := exec.reply
	name := reply.EntityName()

	hotel, ok := MatchEntity(exec.hotels, name)
	if !ok && name == "" {
		hotel, ok = findByID(exec.hotels, reply.EntityID())
	}
	if !ok {
		message := "Sorry, I could not find that hotel in our network. Could you check the name, or ask me to search for hotels instead?"
		if name != "" {
			message = fmt.Sprintf("Sorry, I could not find a hotel called %q in our network. Could you check the name, or ask me to search for hotels instead?", name)
		}
		reply.Classification = reply.Demote(message)
		return
	}

	reply.TargetEntityID = intent.StringPtr(hotel.ID)
	reply.TargetEntityName = intent.StringPtr(hotel.Name)
	reply.RequiresRouting = true
}

// dispatch 转发到租户代理。返回 true 表示终态事件已经写出，调用方不再发送 completed。
func (a *Agent) dispatch(ctx context.Context, exec *execution) bool {
	reply := exec.reply
	targetID := reply.EntityID()
	started := time.Now()

	var (
		result dispatch.Result
		err    error
	)
	if a.dispatcher == nil {
		err = xerrors.New(dispatch.CodeRoutingUnavailable, dispatch.UnavailableMessage,
			xerrors.WithMetadata("reason", "dispatcher not configured"))
	} else {
		msg := dispatch.NewMessage(exec.req.Text(), exec.req.ContextID)
		result, err = a.dispatcher.Dispatch(ctx, targetID, msg, exec.sink)
	}
	metrics.ObserveDispatch(targetID, err == nil, time.Since(started))
	if result.Forwarded() || err == nil {
		metrics.ObserveRelay(result.Stats.Events, result.Stats.Malformed, result.Stats.SawFinal)
	}
	if result.Forwarded() {
		exec.dispatched = true
	}

	if err == nil {
		if !exec.sink.Finalized() {
			exec.log.Warn("下游事件流结束但没有 final 事件", slog.String("target", targetID))
			reply.Message = interruptedMessage
			if completeErr := a.complete(ctx, exec); completeErr != nil {
				exec.log.Warn("写出补充终态事件失败", slog.Any("error", completeErr))
			}
		}
		return true
	}

	exec.log.Warn("转发到租户代理失败", slog.String("target", targetID), slog.Any("error", err))
	a.alert(ctx, exec, err, targetID)
	if exec.sink.Finalized() {
		return true
	}

	hotelName := reply.EntityName()
	if hotelName == "" {
		hotelName = targetID
	}
	reply.Message = fmt.Sprintf("Sorry, %s: I could not reach the assistant for %s right now. Please try again later.",
		dispatch.UnavailableMessage, hotelName)
	return false
}
