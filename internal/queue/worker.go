package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// HandlePublishPostTask delegates to the scheduler's per-post pipeline. The
// scheduler re-checks status and due time, so a task already handled by a
// sweep is a no-op rather than a double publish.
func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return q.sched.ProcessPostID(ctx, payload.PostID)
}
