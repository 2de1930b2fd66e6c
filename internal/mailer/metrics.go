package mailer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedMailer records attempt counts and latency around another Mailer.
type InstrumentedMailer struct {
	next         Mailer
	sendCounter  *prometheus.CounterVec
	sendDuration *prometheus.SummaryVec
}

func NewInstrumentedMailer(next Mailer, reg prometheus.Registerer) *InstrumentedMailer {
	sendCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_send_attempts_total",
			Help: "Newsletter delivery attempts by outcome.",
		},
		[]string{"status"},
	)

	sendDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "newsletter_send_duration_seconds",
			Help:       "Newsletter delivery attempt latency.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			MaxAge:     5 * time.Minute,
		},
		[]string{"status"},
	)

	reg.MustRegister(sendCounter, sendDuration)

	return &InstrumentedMailer{
		next:         next,
		sendCounter:  sendCounter,
		sendDuration: sendDuration,
	}
}

func (m *InstrumentedMailer) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	err := m.next.Send(ctx, msg)

	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.sendCounter.WithLabelValues(status).Inc()
	m.sendDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	return err
}
