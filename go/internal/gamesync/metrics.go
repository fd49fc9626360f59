package gamesync

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports session counters. A nil *Metrics records nothing.
type Metrics struct {
	errors    *prometheus.CounterVec
	retries   *prometheus.CounterVec
	discarded *prometheus.CounterVec
	saves     *prometheus.CounterVec
	version   *prometheus.GaugeVec
}

// NewMetrics registers the session collectors on reg, reusing collectors a
// previous session already registered.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "cardsync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Classified sync errors by type and context.",
		}, []string{"type", "context"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_total",
			Help:      "Retries scheduled by policy.",
		}, []string{"policy"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_updates_discarded_total",
			Help:      "Remote updates discarded because the local placement was newer.",
		}, []string{"message_type"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_saves_total",
			Help:      "Canonical state persist attempts by outcome.",
		}, []string{"outcome"}),
		version: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_version",
			Help:      "Current canonical state version.",
		}, []string{"room_id", "gameplay_id"}),
	}

	var err error
	if m.errors, err = register(reg, m.errors); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	if m.discarded, err = register(reg, m.discarded); err != nil {
		return nil, err
	}
	if m.saves, err = register(reg, m.saves); err != nil {
		return nil, err
	}
	if m.version, err = register(reg, m.version); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register session metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) RecordError(errType, errContext string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType, errContext).Inc()
}

func (m *Metrics) RecordRetry(policy string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(policy).Inc()
}

func (m *Metrics) RecordDiscarded(messageType string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(messageType).Inc()
}

func (m *Metrics) RecordSave(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.saves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetVersion(roomID, gameplayID string, version int) {
	if m == nil {
		return
	}
	m.version.WithLabelValues(roomID, gameplayID).Set(float64(version))
}
