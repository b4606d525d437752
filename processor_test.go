package sagastore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTx struct {
	storage   *fakeStorage
	committed bool
	ended     int
	commitErr error
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.storage.commit(t)
	t.committed = true
	return nil
}

func (t *fakeTx) End(context.Context) error {
	t.ended++
	return nil
}

type fakeStorage struct {
	mu         sync.Mutex
	records    map[string]Record
	pending    map[*fakeTx]Record
	txs        []*fakeTx
	getErr     error
	storeErr   error
	beginErr   error
	commitErr  error
	markErrs   []error
	markCalls  int
	storeCalls int
	// beforeStore simulates a concurrent delivery committing first.
	beforeStore func()
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		records: make(map[string]Record),
		pending: make(map[*fakeTx]Record),
	}
}

func (s *fakeStorage) Get(_ context.Context, messageID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return Record{}, false, s.getErr
	}
	record, ok := s.records[messageID]
	return record, ok, nil
}

func (s *fakeStorage) Store(_ context.Context, record Record, tx *fakeTx) error {
	if s.beforeStore != nil {
		s.beforeStore()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeCalls++
	if s.storeErr != nil {
		return s.storeErr
	}
	if _, ok := s.records[record.MessageID]; ok {
		return ErrDuplicateKey
	}
	s.pending[tx] = record
	return nil
}

func (s *fakeStorage) SetAsDispatched(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if len(s.markErrs) > 0 {
		err := s.markErrs[0]
		s.markErrs = s.markErrs[1:]
		if err != nil {
			return err
		}
	}
	record := s.records[messageID]
	if !record.Dispatched {
		record.Dispatched = true
		record.DispatchedAt = time.Unix(100, 0)
	}
	s.records[messageID] = record
	return nil
}

func (s *fakeStorage) BeginTransaction(context.Context) (*fakeTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx := &fakeTx{storage: s, commitErr: s.commitErr}
	s.mu.Lock()
	s.txs = append(s.txs, tx)
	s.mu.Unlock()
	return tx, nil
}

func (s *fakeStorage) commit(tx *fakeTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.pending[tx]; ok {
		s.records[record.MessageID] = record
		delete(s.pending, tx)
	}
}

type recordingDispatcher struct {
	calls [][]Operation
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ops []Operation) error {
	d.calls = append(d.calls, ops)
	return d.err
}

type captureMetrics struct {
	dispatched int
	duplicates int
	conflicts  int
	failures   int
	observed   int
}

func (m *captureMetrics) ObserveUnitOfWork(time.Duration) { m.observed++ }
func (m *captureMetrics) AddDispatched(count int)         { m.dispatched += count }
func (m *captureMetrics) AddDuplicates(count int)         { m.duplicates += count }
func (m *captureMetrics) AddConflicts(count int)          { m.conflicts += count }
func (m *captureMetrics) AddFailures(count int)           { m.failures += count }

func fastMarkBackoff() ProcessorOption {
	return WithMarkBackoff(time.Millisecond, 2*time.Millisecond, time.Second)
}

func sendHandler(calls *int, destinations ...string) HandlerFunc[*fakeTx] {
	return func(_ context.Context, uow *UnitOfWork[*fakeTx]) error {
		*calls++
		for _, dest := range destinations {
			if err := uow.Send(Operation{Destination: dest, Body: []byte(dest)}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestProcessorCommitsThenDispatches(t *testing.T) {
	storage := newFakeStorage()
	dispatcher := &recordingDispatcher{}
	metrics := &captureMetrics{}
	processor := NewProcessor[*fakeTx](storage, dispatcher, WithMetrics(metrics), fastMarkBackoff())

	var calls int
	if err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing", "shipping")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if len(storage.txs) != 1 || !storage.txs[0].committed {
		t.Fatalf("expected one committed transaction")
	}
	if storage.txs[0].ended != 1 {
		t.Fatalf("expected transaction to be ended once, got %d", storage.txs[0].ended)
	}
	if len(dispatcher.calls) != 1 || len(dispatcher.calls[0]) != 2 {
		t.Fatalf("expected one dispatch of 2 operations, got %v", dispatcher.calls)
	}
	if dispatcher.calls[0][0].Destination != "billing" || dispatcher.calls[0][1].Destination != "shipping" {
		t.Fatalf("expected operations in send order, got %v", dispatcher.calls[0])
	}
	for _, op := range dispatcher.calls[0] {
		if op.MessageID == "" {
			t.Fatalf("expected generated message id")
		}
	}
	record := storage.records["msg-1"]
	if !record.Dispatched {
		t.Fatalf("expected record to be dispatched")
	}
	if metrics.dispatched != 2 || metrics.failures != 0 || metrics.observed != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestProcessorRedeliverySkipsHandler(t *testing.T) {
	storage := newFakeStorage()
	storage.records["msg-1"] = Record{
		MessageID:  "msg-1",
		Operations: []Operation{{MessageID: "out-1", Destination: "billing"}},
	}
	dispatcher := &recordingDispatcher{}
	metrics := &captureMetrics{}
	processor := NewProcessor[*fakeTx](storage, dispatcher, WithMetrics(metrics), fastMarkBackoff())

	var calls int
	if err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if calls != 0 {
		t.Fatalf("expected handler to be skipped")
	}
	if len(storage.txs) != 0 {
		t.Fatalf("expected no transaction on redelivery")
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0][0].MessageID != "out-1" {
		t.Fatalf("expected stored operation to be dispatched, got %v", dispatcher.calls)
	}
	if !storage.records["msg-1"].Dispatched {
		t.Fatalf("expected record to be marked dispatched")
	}
	if metrics.duplicates != 1 {
		t.Fatalf("expected duplicate metric, got %d", metrics.duplicates)
	}
}

func TestProcessorRedeliveryOfDispatchedRecordIsNoop(t *testing.T) {
	storage := newFakeStorage()
	storage.records["msg-1"] = Record{
		MessageID:    "msg-1",
		Operations:   []Operation{{MessageID: "out-1", Destination: "billing"}},
		Dispatched:   true,
		DispatchedAt: time.Unix(50, 0),
	}
	dispatcher := &recordingDispatcher{}
	processor := NewProcessor[*fakeTx](storage, dispatcher)

	var calls int
	if err := processor.Process(context.Background(), "msg-1", sendHandler(&calls)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if calls != 0 || len(dispatcher.calls) != 0 || storage.markCalls != 0 {
		t.Fatalf("expected no work for dispatched record")
	}
}

func TestProcessorHandlerErrorAborts(t *testing.T) {
	storage := newFakeStorage()
	dispatcher := &recordingDispatcher{}
	metrics := &captureMetrics{}
	processor := NewProcessor[*fakeTx](storage, dispatcher, WithMetrics(metrics))

	conflict := &ConflictError{SagaType: "OrderSaga", SagaID: "s-1"}
	err := processor.Process(context.Background(), "msg-1", HandlerFunc[*fakeTx](func(_ context.Context, uow *UnitOfWork[*fakeTx]) error {
		_ = uow.Send(Operation{Destination: "billing"})
		return conflict
	}))

	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if storage.storeCalls != 0 {
		t.Fatalf("expected no outbox store after handler error")
	}
	if storage.txs[0].committed || storage.txs[0].ended != 1 {
		t.Fatalf("expected uncommitted, ended transaction")
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("expected no dispatch")
	}
	if metrics.conflicts != 1 || metrics.failures != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestProcessorHandlerDuplicateKeyIsNotRedelivery(t *testing.T) {
	storage := newFakeStorage()
	processor := NewProcessor[*fakeTx](storage, &recordingDispatcher{})

	err := processor.Process(context.Background(), "msg-1", HandlerFunc[*fakeTx](func(context.Context, *UnitOfWork[*fakeTx]) error {
		return ErrDuplicateKey
	}))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key from handler, got %v", err)
	}
	if storage.storeCalls != 0 {
		t.Fatalf("expected no outbox store")
	}
}

func TestProcessorConcurrentStoreDispatchesStoredRecord(t *testing.T) {
	storage := newFakeStorage()
	storage.beforeStore = func() {
		storage.mu.Lock()
		storage.records["msg-1"] = Record{
			MessageID:  "msg-1",
			Operations: []Operation{{MessageID: "winner", Destination: "billing"}},
		}
		storage.mu.Unlock()
	}
	dispatcher := &recordingDispatcher{}
	metrics := &captureMetrics{}
	processor := NewProcessor[*fakeTx](storage, dispatcher, WithMetrics(metrics), fastMarkBackoff())

	var calls int
	if err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if storage.txs[0].committed {
		t.Fatalf("expected losing transaction not to commit")
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0][0].MessageID != "winner" {
		t.Fatalf("expected winner's operations to be dispatched, got %v", dispatcher.calls)
	}
	if metrics.duplicates != 1 {
		t.Fatalf("expected duplicate metric")
	}
}

func TestProcessorCommitErrorSkipsDispatch(t *testing.T) {
	storage := newFakeStorage()
	storage.commitErr = errors.New("commit boom")
	dispatcher := &recordingDispatcher{}
	processor := NewProcessor[*fakeTx](storage, dispatcher)

	var calls int
	err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing"))
	if !errors.Is(err, storage.commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("expected no dispatch after failed commit")
	}
	if _, ok := storage.records["msg-1"]; ok {
		t.Fatalf("expected no visible record")
	}
}

func TestProcessorDispatchErrorLeavesRecordPending(t *testing.T) {
	storage := newFakeStorage()
	dispatcher := &recordingDispatcher{err: errors.New("transport down")}
	processor := NewProcessor[*fakeTx](storage, dispatcher)

	var calls int
	err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing"))
	if !errors.Is(err, dispatcher.err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	record, ok := storage.records["msg-1"]
	if !ok || record.Dispatched {
		t.Fatalf("expected committed, undispatched record")
	}

	dispatcher.err = nil
	if err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing")); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run only on first delivery, got %d", calls)
	}
	if !storage.records["msg-1"].Dispatched {
		t.Fatalf("expected record dispatched after redelivery")
	}
}

func TestProcessorRetriesSetAsDispatched(t *testing.T) {
	storage := newFakeStorage()
	storage.markErrs = []error{errors.New("primary stepped down"), errors.New("timeout"), nil}
	processor := NewProcessor[*fakeTx](storage, &recordingDispatcher{}, fastMarkBackoff())

	var calls int
	if err := processor.Process(context.Background(), "msg-1", sendHandler(&calls, "billing")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if storage.markCalls != 3 {
		t.Fatalf("expected 3 mark attempts, got %d", storage.markCalls)
	}
	if !storage.records["msg-1"].Dispatched {
		t.Fatalf("expected record dispatched")
	}
}

func TestProcessorSetAsDispatchedStopsOnCancel(t *testing.T) {
	storage := newFakeStorage()
	storage.records["msg-1"] = Record{MessageID: "msg-1"}
	ctx, cancel := context.WithCancel(context.Background())
	markErr := errors.New("unreachable")
	storage.markErrs = []error{markErr}
	processor := NewProcessor[*fakeTx](storage, &recordingDispatcher{}, fastMarkBackoff())

	cancel()
	err := processor.Process(ctx, "msg-1", sendHandler(new(int)))
	if err == nil {
		t.Fatalf("expected error after cancel")
	}
	if storage.markCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", storage.markCalls)
	}
}

func TestProcessorHandlerPanic(t *testing.T) {
	storage := newFakeStorage()
	processor := NewProcessor[*fakeTx](storage, &recordingDispatcher{})

	err := processor.Process(context.Background(), "msg-1", HandlerFunc[*fakeTx](func(context.Context, *UnitOfWork[*fakeTx]) error {
		panic("boom")
	}))
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("expected handler panic error, got %v", err)
	}
	if storage.txs[0].ended != 1 {
		t.Fatalf("expected transaction to be ended after panic")
	}
}

func TestProcessorHandlerTimeout(t *testing.T) {
	storage := newFakeStorage()
	processor := NewProcessor[*fakeTx](storage, &recordingDispatcher{}, WithHandlerTimeout(time.Millisecond))

	err := processor.Process(context.Background(), "msg-1", HandlerFunc[*fakeTx](func(ctx context.Context, _ *UnitOfWork[*fakeTx]) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestProcessorErrors(t *testing.T) {
	storage := newFakeStorage()
	processor := NewProcessor[*fakeTx](storage, &recordingDispatcher{})

	if err := processor.Process(context.Background(), "", sendHandler(new(int))); !errors.Is(err, ErrMessageIDRequired) {
		t.Fatalf("expected ErrMessageIDRequired, got %v", err)
	}

	storage.getErr = errors.New("lookup boom")
	if err := processor.Process(context.Background(), "msg-1", sendHandler(new(int))); !errors.Is(err, storage.getErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}

	storage.getErr = nil
	storage.beginErr = errors.New("begin boom")
	if err := processor.Process(context.Background(), "msg-1", sendHandler(new(int))); !errors.Is(err, storage.beginErr) {
		t.Fatalf("expected begin error, got %v", err)
	}

	storage.beginErr = nil
	storage.storeErr = errors.New("store boom")
	if err := processor.Process(context.Background(), "msg-1", sendHandler(new(int))); !errors.Is(err, storage.storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestUnitOfWorkSendValidates(t *testing.T) {
	uow := &UnitOfWork[*fakeTx]{messageID: "msg-1"}
	if err := uow.Send(Operation{}); !errors.Is(err, ErrDestinationRequired) {
		t.Fatalf("expected ErrDestinationRequired, got %v", err)
	}
	if err := uow.Send(Operation{MessageID: "fixed", Destination: "billing"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ops := uow.Operations()
	if len(ops) != 1 || ops[0].MessageID != "fixed" {
		t.Fatalf("unexpected operations: %v", ops)
	}
	ops[0].Destination = "mutated"
	if uow.Operations()[0].Destination != "billing" {
		t.Fatalf("expected operations copy")
	}
}

func TestNewProcessorPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewProcessor[*fakeTx](nil, &recordingDispatcher{})
}
