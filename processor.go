package sagastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Processor runs units of work through the outbox: handler writes and outgoing operations
// commit together, and operations of a redelivered message are dispatched without running
// the handler again.
type Processor[T Transaction] struct {
	storage    OutboxStorage[T]
	dispatcher Dispatcher
	cfg        ProcessorConfig
}

// NewProcessor constructs a Processor with defaults and optional settings.
func NewProcessor[T Transaction](storage OutboxStorage[T], dispatcher Dispatcher, opts ...ProcessorOption) *Processor[T] {
	if storage == nil {
		panic("sagastore: nil OutboxStorage")
	}
	if dispatcher == nil {
		panic("sagastore: nil Dispatcher")
	}

	var cfg ProcessorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Processor[T]{
		storage:    storage,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Process handles the incoming message messageID.
//
// Errors from the handler are returned unchanged so callers can match ErrConcurrencyConflict
// and redeliver. Dispatch failures leave the record undispatched; the next delivery of the same
// message dispatches it again.
func (p *Processor[T]) Process(ctx context.Context, messageID string, handler Handler[T]) (err error) {
	if handler == nil {
		panic("sagastore: nil Handler")
	}
	if messageID == "" {
		return ErrMessageIDRequired
	}

	start := time.Now()
	defer func() {
		p.cfg.Metrics.ObserveUnitOfWork(time.Since(start))
		if err != nil {
			p.cfg.Metrics.AddFailures(1)
		}
	}()

	record, found, err := p.storage.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("sagastore: outbox lookup failed: %w", err)
	}
	if found {
		p.cfg.Metrics.AddDuplicates(1)
		p.cfg.Logger.Debug("outbox record exists, skipping handler", "message_id", messageID, "dispatched", record.Dispatched)

		return p.dispatchRecord(ctx, record)
	}

	record, duplicate, err := p.execute(ctx, messageID, handler)
	if duplicate {
		return p.dispatchStored(ctx, messageID, err)
	}
	if err != nil {
		return err
	}

	return p.dispatchRecord(ctx, record)
}

func (p *Processor[T]) execute(ctx context.Context, messageID string, handler Handler[T]) (Record, bool, error) {
	tx, err := p.storage.BeginTransaction(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("sagastore: begin transaction failed: %w", err)
	}
	defer func() {
		if endErr := tx.End(ctx); endErr != nil {
			p.cfg.Logger.Warn("sagastore transaction end failed", "message_id", messageID, "err", endErr)
		}
	}()

	uow := &UnitOfWork[T]{messageID: messageID, tx: tx}
	if err := p.handle(ctx, handler, uow); err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			p.cfg.Metrics.AddConflicts(1)
			p.cfg.Logger.Info("saga concurrency conflict", "message_id", messageID, "err", err)
		}

		return Record{}, false, err
	}

	record := Record{MessageID: messageID, Operations: uow.Operations()}
	if err := p.storage.Store(ctx, record, tx); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return Record{}, true, err
		}

		return Record{}, false, fmt.Errorf("sagastore: outbox store failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, false, fmt.Errorf("sagastore: commit failed: %w", err)
	}

	return record, false, nil
}

func (p *Processor[T]) handle(ctx context.Context, handler Handler[T], uow *UnitOfWork[T]) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.cfg.Logger.Error("sagastore handler panic", "message_id", uow.messageID, "panic", rec)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()

	handleCtx := ctx
	cancel := func() {}
	if p.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	}
	defer cancel()

	return handler.Handle(handleCtx, uow)
}

// dispatchStored handles a concurrent delivery that stored the record first.
func (p *Processor[T]) dispatchStored(ctx context.Context, messageID string, storeErr error) error {
	p.cfg.Metrics.AddDuplicates(1)
	p.cfg.Logger.Info("outbox record stored concurrently", "message_id", messageID)

	record, found, err := p.storage.Get(ctx, messageID)
	if err != nil {
		return errors.Join(storeErr, fmt.Errorf("sagastore: outbox lookup failed: %w", err))
	}
	if !found {
		return storeErr
	}

	return p.dispatchRecord(ctx, record)
}

func (p *Processor[T]) dispatchRecord(ctx context.Context, record Record) error {
	if record.Dispatched {
		return nil
	}
	if len(record.Operations) > 0 {
		if err := p.dispatcher.Dispatch(ctx, record.Operations); err != nil {
			return fmt.Errorf("sagastore: dispatch failed: %w", err)
		}
		p.cfg.Metrics.AddDispatched(len(record.Operations))
	}

	return p.markDispatched(ctx, record.MessageID)
}

func (p *Processor[T]) markDispatched(ctx context.Context, messageID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.MarkInitialInterval
	policy.MaxInterval = p.cfg.MarkMaxInterval
	policy.MaxElapsedTime = p.cfg.MarkMaxElapsed
	policy.Reset()

	operation := func() error {
		err := p.storage.SetAsDispatched(ctx, messageID)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}
	notify := func(err error, next time.Duration) {
		p.cfg.Logger.Warn("outbox set as dispatched failed, retrying", "message_id", messageID, "err", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("sagastore: set as dispatched failed: %w", err)
	}

	return nil
}
