package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"StayRelay/internal/catalog"
	"StayRelay/internal/dispatch"
	"StayRelay/internal/intent"
	"StayRelay/internal/llm"
	"StayRelay/internal/notify"
	"StayRelay/internal/registry"
	"StayRelay/internal/session"
	"StayRelay/internal/stream"
	"StayRelay/internal/task"
	"StayRelay/internal/web3"
)

const seasideWallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func testHotels() []catalog.Hotel {
	return []catalog.Hotel{
		{ID: "seaside", Name: "Seaside Inn", City: "Lisbon", Country: "Portugal", Stars: 4, PricePerNight: 12000, Currency: "USD", Tags: []string{"pool"}, WalletAddress: seasideWallet},
		{ID: "harbor", Name: "Harbor View Hotel", City: "Porto", Country: "Portugal", Stars: 3, PricePerNight: 9000, Currency: "EUR"},
		{ID: "alpine", Name: "Alpine Lodge", City: "Zermatt", Country: "Switzerland", Stars: 5, PricePerNight: 30000, Currency: "CHF"},
	}
}

// scriptedClassifier 按 Purpose 返回预设输出，并记录收到的请求。
type scriptedClassifier struct {
	mu        sync.Mutex
	responses map[llm.Purpose]string
	errs      map[llm.Purpose]error
	requests  []llm.Request
}

func (s *scriptedClassifier) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := s.errs[req.Purpose]; err != nil {
		return nil, err
	}
	return &llm.Response{Content: s.responses[req.Purpose]}, nil
}

func (s *scriptedClassifier) calls(purpose llm.Purpose) []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []llm.Request
	for _, req := range s.requests {
		if req.Purpose == purpose {
			out = append(out, req)
		}
	}
	return out
}

func classifyAs(intentJSON string) *scriptedClassifier {
	return &scriptedClassifier{responses: map[llm.Purpose]string{llm.PurposeIntent: intentJSON}}
}

type stubDispatcher struct {
	calls  int
	target string
	msg    stream.Message
	events []stream.Event
	err    error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, targetID string, msg stream.Message, sink stream.Sink) (dispatch.Result, error) {
	s.calls++
	s.target = targetID
	s.msg = msg
	result := dispatch.Result{}
	for _, event := range s.events {
		if err := sink.Emit(ctx, event); err != nil {
			return result, err
		}
		result.Stats.Events++
		if event.Final {
			result.Stats.SawFinal = true
		}
	}
	return result, s.err
}

type failingCatalog struct {
	catalog.Store
}

func (failingCatalog) Search(context.Context, *catalog.SearchParams, int) ([]catalog.Hotel, error) {
	return nil, errors.New("connection refused")
}

type stubLedger struct{}

func (stubLedger) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "0x1", BlockNumber: "0x10"}, nil
}

func (stubLedger) Close() {}

func request(text string) TaskRequest {
	msg := *stream.TextMessage("user", text)
	msg.ContextID = "ctx-1"
	return NewTaskRequest(msg)
}

// assertSingleFinal 检查 working 在前、恰好一个 final 且位于最后。
func assertSingleFinal(t *testing.T, events []stream.Event) stream.Event {
	t.Helper()
	if len(events) < 2 {
		t.Fatalf("expected at least working and terminal events, got %d", len(events))
	}
	if events[0].Status.State != stream.StateWorking || events[0].Final {
		t.Fatalf("first event must be a non-final working update: %+v", events[0])
	}
	finals := 0
	for _, event := range events {
		if event.Final {
			finals++
		}
	}
	last := events[len(events)-1]
	if finals != 1 || !last.Final {
		t.Fatalf("expected exactly one final event at the end, got %d finals", finals)
	}
	return last
}

func decodeReply(t *testing.T, event stream.Event) Reply {
	t.Helper()
	var reply Reply
	if err := json.Unmarshal([]byte(event.Text()), &reply); err != nil {
		t.Fatalf("decode reply %q: %v", event.Text(), err)
	}
	return reply
}

func TestConversationPassesMessageThrough(t *testing.T) {
	classifier := classifyAs(`{"category":"conversation","message":"Hello! How can I help?","confidence":0.9}`)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), request("hi there"), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := assertSingleFinal(t, rec.Events())
	if final.Status.State != stream.StateCompleted {
		t.Fatalf("expected completed, got %s", final.Status.State)
	}
	reply := decodeReply(t, final)
	if reply.Category != intent.CategoryConversation || reply.Message != "Hello! How can I help?" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if rec.Events()[0].Text() != "processing…" {
		t.Fatalf("unexpected placeholder %q", rec.Events()[0].Text())
	}
	if outcome.State != stream.StateCompleted || outcome.Dispatched {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	intentCalls := classifier.calls(llm.PurposeIntent)
	if len(intentCalls) != 1 || !strings.Contains(intentCalls[0].Catalog, "seaside: Seaside Inn") {
		t.Fatalf("classifier must receive the catalog summary: %+v", intentCalls)
	}
}

func TestUnparseableClassificationFallsBack(t *testing.T) {
	ag := New(classifyAs("I think they want a hotel, maybe?"), catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	if _, err := ag.Execute(context.Background(), request("hmm"), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.Category != intent.CategoryConversation || reply.Message != "I think they want a hotel, maybe?" {
		t.Fatalf("unexpected fallback: %+v", reply)
	}
	if reply.Confidence > intent.FallbackConfidence || reply.TargetEntityID != nil || reply.SearchParams != nil || reply.RequiresRouting {
		t.Fatalf("fallback must clear routing fields: %+v", reply)
	}
}

func TestClassifierErrorIsNotATaskFailure(t *testing.T) {
	classifier := &scriptedClassifier{errs: map[llm.Purpose]error{llm.PurposeIntent: errors.New("503 from provider")}}
	ag := New(classifier, catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), request("hotels in Lisbon"), rec)
	if err != nil {
		t.Fatalf("classifier errors must be absorbed: %v", err)
	}
	final := assertSingleFinal(t, rec.Events())
	reply := decodeReply(t, final)
	if final.Status.State != stream.StateCompleted || reply.Category != intent.CategoryConversation || reply.Confidence != 0 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if outcome.State != stream.StateCompleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestClassifierTimeout(t *testing.T) {
	slow := llm.ClientFunc(func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		select {
		case <-time.After(time.Second):
			return &llm.Response{Content: `{"category":"conversation","message":"late"}`}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	ag := New(slow, catalog.NewMemoryStore(testHotels()), WithLLMTimeout(10*time.Millisecond))

	rec := &stream.Recorder{}
	if _, err := ag.Execute(context.Background(), request("hello"), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.Message != intent.Unavailable().Message {
		t.Fatalf("timeout should yield the apology message, got %q", reply.Message)
	}
}

func TestCatalogSearch(t *testing.T) {
	classifier := classifyAs(`{"category":"catalog_search","message":"Here is what I found.","searchParams":{"country":"Portugal"},"confidence":0.8}`)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	if _, err := ag.Execute(context.Background(), request("hotels in Portugal"), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.Metadata.TotalResults == nil || *reply.Metadata.TotalResults != 2 || len(reply.Hotels) != 2 {
		t.Fatalf("unexpected results: %+v", reply)
	}
	want := "1. Harbor View Hotel - Porto, Portugal | 3★ | 9000 EUR/night\n2. Seaside Inn - Lisbon, Portugal | 4★ | 12000 USD/night | tags: pool"
	if !strings.Contains(reply.Message, want) || !strings.HasPrefix(reply.Message, "Here is what I found.") {
		t.Fatalf("unexpected summary:\n%s", reply.Message)
	}
}

func TestCatalogSearchWithoutParamsIsUnfiltered(t *testing.T) {
	ag := New(classifyAs(`{"category":"catalog_search","message":"","searchParams":null}`), catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), request("show me hotels"), rec)
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if *reply.Metadata.TotalResults != 3 {
		t.Fatalf("expected every hotel, got %d", *reply.Metadata.TotalResults)
	}
}

func TestCatalogBackendErrorStillCompletes(t *testing.T) {
	store := failingCatalog{Store: catalog.NewMemoryStore(testHotels())}
	ag := New(classifyAs(`{"category":"catalog_search","message":"ok"}`), store)

	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), request("hotels"), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := assertSingleFinal(t, rec.Events())
	reply := decodeReply(t, final)
	if final.Status.State != stream.StateCompleted || reply.Metadata.TotalResults == nil || *reply.Metadata.TotalResults != 0 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !strings.Contains(reply.Message, "could not search") {
		t.Fatalf("message must explain the failure: %q", reply.Message)
	}
	if !strings.Contains(final.Text(), `"totalResults":0`) {
		t.Fatalf("zero results must be serialised: %s", final.Text())
	}
	if outcome.State != stream.StateCompleted {
		t.Fatalf("unexpected outcome state %s", outcome.State)
	}
}

func TestEntityNotFoundIsDemoted(t *testing.T) {
	dispatcher := &stubDispatcher{}
	classifier := classifyAs(`{"category":"entity_specific","message":"Let me check.","targetEntityId":"ghost","targetEntityName":"Ghost Palace","requiresRouting":true,"confidence":0.7}`)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()), WithDispatcher(dispatcher))

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), request("is the Ghost Palace open?"), rec)
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.Category != intent.CategoryConversation || reply.TargetEntityID != nil || reply.RequiresRouting {
		t.Fatalf("expected demotion, got %+v", reply)
	}
	if !strings.Contains(reply.Message, "Ghost Palace") {
		t.Fatalf("message should name the missing hotel: %q", reply.Message)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("demoted tasks must not dispatch")
	}
}

func TestEntitySpecificDispatchRelaysDownstream(t *testing.T) {
	downstream := []stream.Event{
		stream.NewStatusEvent("remote", "ctx-1", stream.StateWorking, "looking", false),
		stream.NewStatusEvent("remote", "ctx-1", stream.StateCompleted, "Yes, there is a pool.", true),
	}
	dispatcher := &stubDispatcher{events: downstream}
	classifier := classifyAs(`{"category":"entity_specific","message":"draft","targetEntityName":"seaside","confidence":0.9}`)
	tasks := task.NewMemoryStore(0)
	sessions := session.NewMemoryStore(0)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()),
		WithDispatcher(dispatcher), WithTaskStore(tasks), WithSessionStore(sessions))

	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), request("Does the Seaside have a pool?"), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := rec.Events()
	final := assertSingleFinal(t, events)
	if len(events) != 3 || final.Text() != "Yes, there is a pool." {
		t.Fatalf("downstream events must be relayed without a local terminal: %+v", events)
	}
	if dispatcher.target != "seaside" || dispatcher.msg.Text() != "Does the Seaside have a pool?" || dispatcher.msg.ContextID != "ctx-1" {
		t.Fatalf("dispatch must carry the original message: %+v", dispatcher)
	}
	if !outcome.Dispatched {
		t.Fatalf("outcome should be marked dispatched")
	}

	record, err := tasks.Get(context.Background(), outcome.TaskID)
	if err != nil {
		t.Fatalf("task record missing: %v", err)
	}
	if record.State != stream.StateCompleted || !record.Dispatched || record.TargetID != "seaside" || record.Category != string(intent.CategoryEntitySpecific) {
		t.Fatalf("unexpected task record: %+v", record)
	}

	turns, _ := sessions.History(context.Background(), "ctx-1")
	if len(turns) != 1 || turns[0].Output != "draft" {
		t.Fatalf("turn must be remembered with the draft output: %+v", turns)
	}
}

func TestEntitySpecificTerminalAfterDownstreamFinalIsDropped(t *testing.T) {
	downstream := []stream.Event{
		stream.NewStatusEvent("remote", "ctx-1", stream.StateCompleted, "done", true),
		stream.NewStatusEvent("remote", "ctx-1", stream.StateWorking, "late", false),
	}
	ag := New(classifyAs(`{"category":"entity_specific","message":"m","targetEntityName":"Alpine Lodge"}`),
		catalog.NewMemoryStore(testHotels()), WithDispatcher(&stubDispatcher{events: downstream}))

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), request("alpine?"), rec)
	events := rec.Events()
	assertSingleFinal(t, events)
	if len(events) != 2 {
		t.Fatalf("events after final must be dropped, got %+v", events)
	}
}

func TestDownstreamWithoutFinalGetsLocalTerminal(t *testing.T) {
	downstream := []stream.Event{stream.NewStatusEvent("remote", "ctx-1", stream.StateWorking, "partial answer", false)}
	ag := New(classifyAs(`{"category":"entity_specific","message":"m","targetEntityName":"Harbor View"}`),
		catalog.NewMemoryStore(testHotels()), WithDispatcher(&stubDispatcher{events: downstream}))

	rec := &stream.Recorder{}
	outcome, _ := ag.Execute(context.Background(), request("harbor?"), rec)
	events := rec.Events()
	final := assertSingleFinal(t, events)
	if len(events) != 3 || final.Status.State != stream.StateCompleted {
		t.Fatalf("expected relayed event plus local terminal, got %+v", events)
	}
	if reply := decodeReply(t, final); reply.Message != interruptedMessage {
		t.Fatalf("unexpected message: %q", reply.Message)
	}
	if !outcome.Dispatched {
		t.Fatalf("forwarded tasks count as dispatched")
	}
}

func TestDispatchFailureFallsThroughToCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg, err := registry.New(dispatch.NewFactory(nil), registry.Entry{ID: "seaside", DisplayName: "Seaside Inn", EndpointURL: srv.URL})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sessions := session.NewMemoryStore(0)
	ag := New(classifyAs(`{"category":"entity_specific","message":"draft","targetEntityName":"Seaside Inn"}`),
		catalog.NewMemoryStore(testHotels()),
		WithDispatcher(dispatch.NewDispatcher(reg)), WithSessionStore(sessions))

	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), request("Seaside Inn breakfast?"), rec)
	if err != nil {
		t.Fatalf("dispatch failures must not fail the task: %v", err)
	}
	events := rec.Events()
	final := assertSingleFinal(t, events)
	if len(events) != 2 || final.Status.State != stream.StateCompleted {
		t.Fatalf("expected working + one completed, got %+v", events)
	}
	reply := decodeReply(t, final)
	if !strings.Contains(reply.Message, dispatch.UnavailableMessage) {
		t.Fatalf("message must explain routing is unavailable: %q", reply.Message)
	}
	if outcome.Dispatched {
		t.Fatalf("nothing was forwarded")
	}
	if turns, _ := sessions.History(context.Background(), "ctx-1"); len(turns) != 1 {
		t.Fatalf("turn must be remembered regardless of dispatch outcome")
	}
}

func TestRoutingPlaceholderWhenTargetKnown(t *testing.T) {
	ag := New(classifyAs(`{"category":"conversation","message":"ok"}`), catalog.NewMemoryStore(testHotels()))
	req := request("and the spa?")
	req.Message.Metadata = map[string]any{MetadataTargetEntityID: "seaside"}

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), req, rec)
	if got := rec.Events()[0].Text(); got != "routing…" {
		t.Fatalf("expected routing placeholder, got %q", got)
	}
}

func TestBookingConfirmationDerivesDetails(t *testing.T) {
	classifier := &scriptedClassifier{responses: map[llm.Purpose]string{
		llm.PurposeIntent:       `{"category":"booking_confirmation","message":"Sure.","targetEntityName":"Seaside Inn","requiresRouting":true}`,
		llm.PurposeBookingDates: "```json\n{\"checkin\":\"2025-03-01\",\"checkout\":\"2025-03-03\"}\n```",
	}}
	dispatcher := &stubDispatcher{}
	publisher := notify.NewMemoryPublisher(4)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()),
		WithDispatcher(dispatcher), WithPublisher(publisher), WithLedger(stubLedger{}))

	rec := &stream.Recorder{}
	if _, err := ag.Execute(context.Background(), request("book Seaside Inn from March 1 to March 3"), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.Category != intent.CategoryBookingConfirmation || reply.RequiresRouting {
		t.Fatalf("booking must never require routing: %+v", reply)
	}
	if reply.EntityID() != "seaside" || reply.Booking == nil {
		t.Fatalf("expected booking details: %+v", reply)
	}
	if reply.Booking.Nights != 2 || reply.Booking.TotalValueMinorUnits.Int64() != 24000 {
		t.Fatalf("unexpected booking: %+v", reply.Booking)
	}
	if reply.Payment == nil || reply.Payment.AmountHex != "0x5dc0" || reply.Payment.ChainID != "0x1" {
		t.Fatalf("unexpected payment quote: %+v", reply.Payment)
	}
	if dispatcher.calls != 0 {
		t.Fatalf("booking must not dispatch")
	}

	select {
	case event := <-publisherEvents(t, publisher):
		if event.Type != notify.TypeBookingQuoted || event.ContextID != "ctx-1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected booking.quoted event")
	}
}

func publisherEvents(t *testing.T, publisher *notify.MemoryPublisher) <-chan notify.Event {
	t.Helper()
	out := make(chan notify.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = publisher.Consume(ctx, 1, func(_ context.Context, event notify.Event) error {
			select {
			case out <- event:
			default:
			}
			return nil
		})
	}()
	return out
}

func TestBookingWithoutDatesAsksForThem(t *testing.T) {
	classifier := &scriptedClassifier{responses: map[llm.Purpose]string{
		llm.PurposeIntent:       `{"category":"booking_confirmation","message":"Sure."}`,
		llm.PurposeEntityLookup: `{"entityName":"alpine lodge"}`,
		llm.PurposeBookingDates: `{"checkin":null,"checkout":null}`,
	}}
	ag := New(classifier, catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), request("I'll take it"), rec)
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.EntityID() != "alpine" || reply.Booking != nil || reply.RequiresRouting {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !strings.Contains(reply.Message, "check-in") {
		t.Fatalf("expected a request for dates: %q", reply.Message)
	}
	if len(classifier.calls(llm.PurposeEntityLookup)) != 1 {
		t.Fatalf("missing entity should trigger one lookup call")
	}
}

func TestBookingWithInvalidDates(t *testing.T) {
	classifier := &scriptedClassifier{responses: map[llm.Purpose]string{
		llm.PurposeIntent:       `{"category":"booking_confirmation","message":"Sure.","targetEntityId":"harbor"}`,
		llm.PurposeBookingDates: `{"checkin":"2025-03-03","checkout":"2025-03-01"}`,
	}}
	ag := New(classifier, catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), request("book harbor"), rec)
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.Booking != nil || reply.EntityID() != "harbor" || !strings.Contains(reply.Message, "later check-out") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestBookingWithUnknownEntity(t *testing.T) {
	classifier := &scriptedClassifier{responses: map[llm.Purpose]string{
		llm.PurposeIntent:       `{"category":"booking_confirmation","message":"Sure."}`,
		llm.PurposeEntityLookup: `{"entityName":null}`,
	}}
	ag := New(classifier, catalog.NewMemoryStore(testHotels()))

	rec := &stream.Recorder{}
	_, _ = ag.Execute(context.Background(), request("book it"), rec)
	reply := decodeReply(t, assertSingleFinal(t, rec.Events()))
	if reply.TargetEntityID != nil || reply.Message != askEntityMessage {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if len(classifier.calls(llm.PurposeBookingDates)) != 0 {
		t.Fatalf("dates must not be requested before the hotel is known")
	}
}

func TestPanicBecomesFailedEvent(t *testing.T) {
	boom := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		panic("nil map write")
	})
	tasks := task.NewMemoryStore(0)
	ag := New(boom, catalog.NewMemoryStore(testHotels()), WithTaskStore(tasks))

	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), request("hello"), rec)
	if err == nil {
		t.Fatalf("expected an error for the failed task")
	}
	final := assertSingleFinal(t, rec.Events())
	if final.Status.State != stream.StateFailed || outcome.State != stream.StateFailed {
		t.Fatalf("expected failed terminal event, got %s", final.Status.State)
	}

	var payload struct {
		Category string `json:"category"`
		Message  string `json:"message"`
		Error    struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(final.Text()), &payload); err != nil {
		t.Fatalf("failed payload must be JSON: %v", err)
	}
	if payload.Category != "conversation" || payload.Error.Code != string(task.CodeTaskExecutionFailed) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if strings.Contains(final.Text(), "nil map write") || strings.Contains(final.Text(), "goroutine") {
		t.Fatalf("panic details must not reach the caller: %s", final.Text())
	}

	record, _ := tasks.Get(context.Background(), outcome.TaskID)
	if record.State != stream.StateFailed || record.ErrorCode != string(task.CodeTaskExecutionFailed) {
		t.Fatalf("unexpected task record: %+v", record)
	}
}

func TestReusedTaskIDIsRejectedWithoutTouchingRecord(t *testing.T) {
	classifier := classifyAs(`{"category":"catalog_search","message":"Here you go","searchParams":{"city":"Lisbon"}}`)
	tasks := task.NewMemoryStore(0)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()), WithTaskStore(tasks))

	req := request("hotels in Lisbon")
	req.TaskID = "dup"
	if _, err := ag.Execute(context.Background(), req, &stream.Recorder{}); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	before, err := tasks.Get(context.Background(), "dup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	classifier.responses[llm.PurposeIntent] = `{"category":"entity_specific","message":"routing","targetEntityId":"seaside","requiresRouting":true}`
	retry := request("does the seaside have a pool?")
	retry.TaskID = "dup"
	rec := &stream.Recorder{}
	outcome, err := ag.Execute(context.Background(), retry, rec)
	if !errors.Is(err, task.ErrTaskConflict) {
		t.Fatalf("expected task conflict, got %v", err)
	}
	events := rec.Events()
	if len(events) != 1 || !events[0].Final || events[0].Status.State != stream.StateFailed || outcome.State != stream.StateFailed {
		t.Fatalf("expected a single failed terminal event, got %+v", events)
	}
	if !strings.Contains(events[0].Text(), string(task.CodeTaskConflict)) {
		t.Fatalf("failed payload should carry the conflict code: %s", events[0].Text())
	}
	if len(classifier.calls(llm.PurposeIntent)) != 1 {
		t.Fatalf("rejected request must not be classified")
	}

	after, _ := tasks.Get(context.Background(), "dup")
	if after.Category != before.Category || after.TargetID != before.TargetID || after.Dispatched != before.Dispatched ||
		after.InputText != before.InputText || after.State != before.State || after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("existing record was modified:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestSessionHistoryFeedsClassifier(t *testing.T) {
	classifier := classifyAs(`{"category":"conversation","message":"noted"}`)
	ag := New(classifier, catalog.NewMemoryStore(testHotels()), WithSessionStore(session.NewMemoryStore(2)))

	for i := 0; i < 4; i++ {
		_, _ = ag.Execute(context.Background(), request(fmt.Sprintf("turn %d", i)), &stream.Recorder{})
	}
	calls := classifier.calls(llm.PurposeIntent)
	last := calls[len(calls)-1].History
	if strings.Contains(last, "turn 0") || !strings.Contains(last, "user: turn 1") {
		t.Fatalf("history should hold the latest window only: %q", last)
	}
}

func TestMatchEntity(t *testing.T) {
	hotels := []catalog.Hotel{
		{ID: "b", Name: "Grand Hotel"},
		{ID: "a", Name: "Grand Hotel Lisbon"},
		{ID: "c", Name: "Grand"},
		{ID: "d", Name: "Sunset Suites"},
		{ID: "e", Name: "Sunset Rooms"},
		{ID: "f", Name: ""},
	}
	tests := []struct {
		query  string
		wantID string
		found  bool
	}{
		{query: "grand hotel", wantID: "b", found: true},
		{query: "GRAND HOTEL LISBON", wantID: "a", found: true},
		{query: "gran", wantID: "c", found: true},
		{query: "sunset", wantID: "e", found: true},
		{query: "tell me about Sunset Suites please", wantID: "d", found: true},
		{query: "nowhere", found: false},
		{query: "  ", found: false},
	}
	for _, tt := range tests {
		got, ok := MatchEntity(hotels, tt.query)
		if ok != tt.found || (ok && got.ID != tt.wantID) {
			t.Fatalf("query %q: got %q (%v), want %q (%v)", tt.query, got.ID, ok, tt.wantID, tt.found)
		}
	}
}
