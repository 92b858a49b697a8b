package notif

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medichat_notifications_emitted_total",
		Help: "Notifications inserted into a session's notification list.",
	})
	notificationsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medichat_notifications_deduplicated_total",
		Help: "Message events discarded because they were already processed.",
	})
	notificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medichat_notifications_suppressed_total",
		Help: "Notifications withheld by the freshness filter or the duplicate window.",
	})
)
