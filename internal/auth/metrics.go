package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	loginAttempts *prometheus.CounterVec
	lockouts      prometheus.Counter
	refreshes     *prometheus.CounterVec
	authorizes    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Accounts locked after repeated failures.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh token redemptions by outcome.",
		}, []string{"outcome"}),
		authorizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_authorize_total",
			Help: "Authorization checks by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.loginAttempts, m.lockouts, m.refreshes, m.authorizes)
	}
	return m
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) locked() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) authorize(outcome string) {
	if m == nil {
		return
	}
	m.authorizes.WithLabelValues(outcome).Inc()
}
