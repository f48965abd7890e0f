package queue

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueuePublish schedules a publish task to fire after delay. Errors are the
// caller's to handle; the post stays in the database either way and the sweep
// will pick it up.
func EnqueuePublish(asynqClient *asynq.Client, payload PublishPostPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	slog.Info("publish task enqueued", "post_id", payload.PostID, "delay", delay)
	return nil
}
