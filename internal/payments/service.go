package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	"github.com/inkwellbooks/bookstore-backend/internal/inventory"
	"github.com/inkwellbooks/bookstore-backend/internal/orders"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
	"github.com/inkwellbooks/bookstore-backend/pkg/metrics"
	"github.com/inkwellbooks/bookstore-backend/pkg/outbox"
)

const (
	sourceClient  = "client"
	sourceWebhook = "webhook"
	sourceCron    = "cron"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type inventorySettler interface {
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type settlerImpl struct{}

func (settlerImpl) Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return inventory.CommitForOrder(ctx, tx, orderID)
}

func (settlerImpl) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return inventory.ReleaseForOrder(ctx, tx, orderID)
}

func (settlerImpl) Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return inventory.RestockForOrder(ctx, tx, orderID)
}

// Actor identifies who requested a lifecycle change.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// Service owns payment settlement and the post-payment order lifecycle.
type Service interface {
	ConfirmPayment(ctx context.Context, customerID, orderID uuid.UUID, intentID string) (*models.Order, error)
	HandleWebhookOutcome(ctx context.Context, outcome gateway.WebhookOutcome) error
	MarkShipped(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error)
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	Reason      string            `json:"reason,omitempty"`
	Source      string            `json:"source,omitempty"`
}

type service struct {
	tx         txRunner
	ordersRepo orders.Repository
	gateway    gateway.PaymentGateway
	outbox     outboxPublisher
	settler    inventorySettler
	metrics    *metrics.PaymentMetrics
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the payments service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	gw gateway.PaymentGateway,
	publisher outboxPublisher,
	settler inventorySettler,
	paymentMetrics *metrics.PaymentMetrics,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if settler == nil {
		settler = settlerImpl{}
	}
	return &service{
		tx:         tx,
		ordersRepo: ordersRepo,
		gateway:    gw,
		outbox:     publisher,
		settler:    settler,
		metrics:    paymentMetrics,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// ConfirmPayment is the client-driven settlement path. The gateway is the
// source of truth: the client's claim is verified with a live intent lookup
// before any state changes.
func (s *service) ConfirmPayment(ctx context.Context, customerID, orderID uuid.UUID, intentID string) (*models.Order, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	if order.PaymentIntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment intent")
	}
	if intentID != "" && intentID != *order.PaymentIntentID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent does not match order")
	}

	switch order.Status {
	case enums.OrderStatusConfirmed, enums.OrderStatusShipped, enums.OrderStatusDelivered:
		// Already settled; confirming again is a no-op.
		return order, nil
	case enums.OrderStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	}

	intent, err := s.gateway.RetrieveIntent(ctx, *order.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != gateway.IntentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not completed at the gateway").
			WithDetails(map[string]any{"intent_status": string(intent.Status)})
	}

	if err := s.settleSuccess(ctx, order, sourceClient); err != nil {
		return nil, err
	}
	return s.loadOrder(ctx, orderID)
}

// HandleWebhookOutcome applies a verified gateway event. Unknown intents and
// ignored event types are acknowledged without error so the gateway stops
// retrying them.
func (s *service) HandleWebhookOutcome(ctx context.Context, outcome gateway.WebhookOutcome) error {
	if outcome.Kind == gateway.OutcomeIgnored {
		s.metrics.IncWebhook("ignored")
		return nil
	}

	order, err := s.ordersRepo.FindByPaymentIntentID(ctx, outcome.IntentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			if s.logg != nil {
				logCtx := s.logg.WithField(ctx, "intent_id", outcome.IntentID)
				s.logg.Warn(logCtx, "webhook for unknown payment intent")
			}
			s.metrics.IncWebhook("unknown_intent")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by intent")
	}

	switch outcome.Kind {
	case gateway.OutcomeSucceeded:
		err = s.settleSuccess(ctx, order, sourceWebhook)
	case gateway.OutcomeFailed:
		err = s.settleFailure(ctx, order, outcome.FailureReason, sourceWebhook)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unsupported webhook outcome")
	}
	if err != nil {
		s.metrics.IncWebhook("error")
		return err
	}
	s.metrics.IncWebhook("processed")
	return nil
}

func (s *service) MarkShipped(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	return s.adminTransition(ctx, orderID, actor, enums.OrderStatusConfirmed, enums.OrderStatusShipped,
		enums.EventOrderShipped, map[string]any{"shipped_at": s.now()})
}

func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	return s.adminTransition(ctx, orderID, actor, enums.OrderStatusShipped, enums.OrderStatusDelivered,
		enums.EventOrderDelivered, map[string]any{"delivered_at": s.now()})
}

// Cancel is allowed while the order has not shipped. Cancelling a paid order
// restocks the committed units and flags the payment for refund; an actual
// refund call is routed to the gateway out of band.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if reason == "" {
		reason = "cancelled"
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		switch order.Status {
		case enums.OrderStatusCancelled:
			return nil
		case enums.OrderStatusPendingPayment, enums.OrderStatusConfirmed:
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled").
				WithDetails(map[string]any{"current_status": string(order.Status)})
		}

		from := order.Status
		updated, err := repo.TransitionStatus(ctx, orderID, from, enums.OrderStatusCancelled, map[string]any{
			"cancelled_at":   s.now(),
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !updated {
			// Lost the race; surface the current state.
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed concurrently")
		}

		if from == enums.OrderStatusConfirmed {
			if err := s.settler.Restock(ctx, tx, orderID); err != nil {
				return err
			}
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, orderID.String())
				s.logg.Info(logCtx, "refund required for cancelled paid order")
			}
		} else {
			if err := s.settler.Release(ctx, tx, orderID); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       1,
			Actor:         actorRef(actor),
			Data: OrderStatusChangedEvent{
				OrderID:     orderID,
				OrderNumber: order.OrderNumber,
				From:        from,
				To:          enums.OrderStatusCancelled,
				Reason:      reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.loadOrder(ctx, orderID)
}

// settleSuccess flips pending_payment to confirmed and commits the inventory
// holds in one transaction. When the conditional flip loses a race, the order
// is re-read: an already-confirmed order means the other settlement path won
// and this call is a no-op.
func (s *service) settleSuccess(ctx context.Context, order *models.Order, source string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)
		updated, err := repo.TransitionStatus(ctx, order.ID,
			enums.OrderStatusPendingPayment, enums.OrderStatusConfirmed,
			map[string]any{"confirmed_at": s.now()})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
		}
		if !updated {
			current, err := repo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			switch current.Status {
			case enums.OrderStatusConfirmed, enums.OrderStatusShipped, enums.OrderStatusDelivered:
				s.metrics.IncSettlement("duplicate", source)
				return nil
			default:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment").
					WithDetails(map[string]any{"current_status": string(current.Status)})
			}
		}

		if err := s.settler.Commit(ctx, tx, order.ID); err != nil {
			return err
		}

		s.metrics.IncSettlement("confirmed", source)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: OrderStatusChangedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				From:        enums.OrderStatusPendingPayment,
				To:          enums.OrderStatusConfirmed,
				Source:      source,
			},
		})
	})
	return err
}

// settleFailure cancels an unpaid order and releases its holds. A failure
// event arriving after the order settled successfully is logged and dropped:
// the gateway's success signal already won.
func (s *service) settleFailure(ctx context.Context, order *models.Order, reason, source string) error {
	if reason == "" {
		reason = "payment failed"
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)
		updated, err := repo.TransitionStatus(ctx, order.ID,
			enums.OrderStatusPendingPayment, enums.OrderStatusCancelled,
			map[string]any{"cancelled_at": s.now(), "failure_reason": reason})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !updated {
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, order.ID.String())
				s.logg.Warn(logCtx, "payment failure for order no longer awaiting payment")
			}
			s.metrics.IncSettlement("duplicate", source)
			return nil
		}

		if err := s.settler.Release(ctx, tx, order.ID); err != nil {
			return err
		}

		s.metrics.IncSettlement("cancelled", source)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: OrderStatusChangedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				From:        enums.OrderStatusPendingPayment,
				To:          enums.OrderStatusCancelled,
				Reason:      reason,
				Source:      source,
			},
		})
	})
}

func (s *service) adminTransition(
	ctx context.Context,
	orderID uuid.UUID,
	actor Actor,
	from, to enums.OrderStatus,
	eventType enums.OutboxEventType,
	updates map[string]any,
) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if !order.Status.CanTransitionTo(to) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed from current status").
				WithDetails(map[string]any{
					"current_status": string(order.Status),
					"requested":      string(to),
				})
		}

		updated, err := repo.TransitionStatus(ctx, orderID, from, to, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed concurrently")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       1,
			Actor:         actorRef(actor),
			Data: OrderStatusChangedEvent{
				OrderID:     orderID,
				OrderNumber: order.OrderNumber,
				From:        from,
				To:          to,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.loadOrder(ctx, orderID)
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.ordersRepo.FindByIDWithItems(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role}
}
