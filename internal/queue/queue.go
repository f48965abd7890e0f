package queue

import (
	"github.com/distributo/api/internal/scheduler"
)

const TaskTypePublishPost = "publish:post"

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}

// Queue hosts the asynq worker side of the fast path: a task enqueued at
// creation time fires when the post is due, without waiting for the next
// periodic sweep. The sweep remains the safety net for missed tasks.
type Queue struct {
	sched *scheduler.Scheduler
}

func NewQueue(sched *scheduler.Scheduler) *Queue {
	return &Queue{sched: sched}
}
