package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leavedesk/internal/events"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const notificationFeedLimit = 100

// ConsumeLeaveDecisions feeds decision events into a per-employee redis list
// that the frontend polls as an in-app notification feed.
func ConsumeLeaveDecisions(
	ctx context.Context,
	reader *kafkago.Reader,
	rdb *redis.Client,
	logger *zap.Logger,
) {
	log := logger.Named("kafka.consumer.leave_decisions")
	log.Info("leave decision consumer started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("leave decision consumer stopped")
				return
			}
			log.Error("fetch leave decision message failed", zap.Error(err))
			continue
		}

		var event events.LeaveDecidedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Error("decode leave_decided event failed", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		if err := pushNotification(ctx, rdb, event); err != nil {
			log.Error("push decision notification failed",
				zap.String("leave_id", event.LeaveID),
				zap.String("employee_id", event.EmployeeID),
				zap.Error(err),
			)
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit leave decision message failed", zap.Error(err))
			continue
		}

		log.Info("decision notification delivered",
			zap.String("leave_id", event.LeaveID),
			zap.String("employee_id", event.EmployeeID),
			zap.String("status", event.Status),
		)
	}
}

func NotificationFeedKey(employeeID string) string {
	return fmt.Sprintf("notifications:%s", employeeID)
}

func pushNotification(ctx context.Context, rdb *redis.Client, event events.LeaveDecidedEvent) error {
	payload, err := json.Marshal(map[string]any{
		"leave_id":    event.LeaveID,
		"status":      event.Status,
		"days":        event.DaysRequested,
		"new_balance": event.NewBalance,
		"decided_at":  event.OccurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	key := NotificationFeedKey(event.EmployeeID)
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, notificationFeedLimit-1)
	_, err = pipe.Exec(ctx)
	return err
}
