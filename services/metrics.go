package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lifecycleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visa_letter",
		Name:      "lifecycle_operations_total",
		Help:      "Lifecycle operations by action and result kind.",
	}, []string{"action", "kind"})

	invitationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visa_letter",
		Name:      "invitation_operations_total",
		Help:      "Invitation issue/claim operations by result kind.",
	}, []string{"operation", "kind"})

	notificationJobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visa_letter",
		Name:      "notification_jobs_total",
		Help:      "Notification job executions by type and outcome.",
	}, []string{"job_type", "outcome"})
)

func kindLabel(r Result) string {
	if r.Success {
		return "ok"
	}
	return string(r.Kind)
}
