package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "medichat_messages_sent_total",
	Help: "Messages successfully appended with their summary updated.",
})
