package accounts

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the account counters.  All methods are safe on a nil *Metrics.
type Metrics struct {
	Registrations  *prometheus.CounterVec
	Logins         *prometheus.CounterVec
	ResetRequests  *prometheus.CounterVec
	PasswordResets *prometheus.CounterVec
	EmailsSent     *prometheus.CounterVec
}

// NewMetrics creates and registers the account metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_registrations_total",
				Help: "Total number of registration attempts by result",
			},
			[]string{"result"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_logins_total",
				Help: "Total number of password sign-in attempts by result",
			},
			[]string{"result"},
		),
		ResetRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_password_reset_requests_total",
				Help: "Total number of password reset requests by outcome",
			},
			[]string{"outcome"},
		),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_password_resets_total",
				Help: "Total number of password reset submissions by result",
			},
			[]string{"result"},
		),
		EmailsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_emails_total",
				Help: "Total number of emails handed to the transport by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.Registrations)
	reg.MustRegister(m.Logins)
	reg.MustRegister(m.ResetRequests)
	reg.MustRegister(m.PasswordResets)
	reg.MustRegister(m.EmailsSent)
	return m
}

func (m *Metrics) registration(result string) {
	if m != nil {
		m.Registrations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) resetRequest(outcome string) {
	if m != nil {
		m.ResetRequests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) passwordReset(result string) {
	if m != nil {
		m.PasswordResets.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) email(result string) {
	if m != nil {
		m.EmailsSent.WithLabelValues(result).Inc()
	}
}
