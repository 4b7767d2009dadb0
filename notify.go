package pgclient

import "github.com/mevdschee/pgclient/metrics"

// Notification is an asynchronous message delivered by the backend in
// response to another session's NOTIFY.
type Notification struct {
	PID     int32
	Channel string
	Payload string
}

// NotificationQueueCapacity bounds the per-connection pending-notification
// queue. Unbounded delivery risks unbounded memory growth when a consumer
// falls behind, so the queue caps out and drops the oldest entry on
// overflow, counted by metrics.NotificationsDroppedTotal.
const NotificationQueueCapacity = 1024

// enqueueNotification pushes n onto the connection's FIFO, dropping the
// oldest pending notification if the queue is already full. Must be called
// with conn.mu held (it is only ever called from readMessage).
func (c *Conn) enqueueNotification(n Notification) {
	select {
	case c.notifications <- n:
	default:
		select {
		case <-c.notifications:
		default:
		}
		select {
		case c.notifications <- n:
		default:
		}
		metrics.NotificationsDroppedTotal.Inc()
	}
}

// Notifications returns a channel that yields queued notifications in
// backend-emission order. The channel is never closed by the connection;
// callers select on it alongside their own shutdown signal.
func (c *Conn) Notifications() <-chan Notification {
	return c.notifications
}
