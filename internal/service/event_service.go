package service

import (
	"context"
	"fmt"

	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"go.uber.org/zap"
)

// ErrEventNotFailed 只有投递失败的事件可以重新投递
var ErrEventNotFailed = fmt.Errorf("%w: 事件不存在或未处于失败状态", ErrInvalidParam)

// EventService 账本事件（outbox）运维
type EventService struct {
	log    *zap.Logger
	outbox *repository.OutboxRepository
}

func NewEventService(d Deps) *EventService {
	return &EventService{
		log:    d.logger(),
		outbox: repository.NewOutboxRepository(d.DB),
	}
}

func (s *EventService) ListFailed(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.outbox.GetFailedMessages(ctx, limit)
}

// Requeue 失败事件重置为待投递，由 OutboxSender 下一轮发送
func (s *EventService) Requeue(ctx context.Context, id int64) error {
	ok, err := s.outbox.Requeue(ctx, id)
	if err != nil {
		return fmt.Errorf("重新投递事件失败: %w", err)
	}
	if !ok {
		return ErrEventNotFailed
	}
	s.log.Info("事件已重新投递", zap.Int64("event_id", id))
	return nil
}
