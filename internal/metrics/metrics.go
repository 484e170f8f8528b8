// metrics — счётчики Prometheus для слоя сессии.
// Все методы безопасны для nil-получателя: метрики необязательны.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Результаты продления.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultStale  = "stale"
	ResultNoAuth = "no_refresh_token"
)

// Причины очистки хранилища.
const (
	ReasonRenewalFailed = "renewal_failed"
	ReasonNoRefresh     = "no_refresh_token"
	ReasonLogout        = "logout"
	ReasonWithdraw      = "withdraw"
)

// Session — набор коллекторов сессионного слоя.
type Session struct {
	renewals *prometheus.CounterVec
	shared   prometheus.Counter
	cleared  *prometheus.CounterVec
	retries  prometheus.Counter
}

// New создаёт коллекторы и регистрирует их в reg (nil — без регистрации).
func New(reg prometheus.Registerer) *Session {
	m := &Session{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photostamp",
			Subsystem: "session",
			Name:      "renewals_total",
			Help:      "Token renewal attempts by result.",
		}, []string{"result"}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "photostamp",
			Subsystem: "session",
			Name:      "renewal_shared_total",
			Help:      "Callers that reused an in-flight renewal instead of starting one.",
		}),
		cleared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photostamp",
			Subsystem: "session",
			Name:      "cleared_total",
			Help:      "Credential store wipes by reason.",
		}, []string{"reason"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "photostamp",
			Subsystem: "session",
			Name:      "retry_limit_reached_total",
			Help:      "Requests that surfaced 401 after exhausting the renewal retry bound.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.renewals, m.shared, m.cleared, m.retries)
	}

	return m
}

// Renewal учитывает исход продления (один раз на полёт).
func (m *Session) Renewal(result string) {
	if m == nil {
		return
	}

	m.renewals.WithLabelValues(result).Inc()
}

// Shared учитывает вызывающего, дождавшегося чужого полёта.
func (m *Session) Shared() {
	if m == nil {
		return
	}

	m.shared.Inc()
}

// Cleared учитывает очистку хранилища.
func (m *Session) Cleared(reason string) {
	if m == nil {
		return
	}

	m.cleared.WithLabelValues(reason).Inc()
}

// RetryLimitReached учитывает запрос, упёршийся в предел повторов.
func (m *Session) RetryLimitReached() {
	if m == nil {
		return
	}

	m.retries.Inc()
}
