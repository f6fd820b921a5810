package metrics

import (
	"github.com/octoit/octoit/pkg/integration"
	"github.com/octoit/octoit/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// EntityLister returns published entities, every entry when entryID is
// empty.
type EntityLister interface {
	List(entryID string) []types.Entity
}

// HealthReporter returns the refresh state of running coordinators.
type HealthReporter interface {
	Health() []integration.CoordinatorHealth
}

// Collector implements prometheus.Collector over the published entities and
// coordinator health.
type Collector struct {
	entities EntityLister
	health   HealthReporter

	entityValue       *prometheus.Desc
	entityAvailable   *prometheus.Desc
	entityStale       *prometheus.Desc
	coordinatorUp     *prometheus.Desc
	coordinatorLastOK *prometheus.Desc
}

// NewCollector creates a new Collector.
func NewCollector(entities EntityLister, health HealthReporter) *Collector {
	return &Collector{
		entities: entities,
		health:   health,
		entityValue: prometheus.NewDesc(
			"octoit_entity_value",
			"Numeric state of an entity, booleans are 0 or 1",
			[]string{"entity_id", "account", "platform", "unit"},
			nil,
		),
		entityAvailable: prometheus.NewDesc(
			"octoit_entity_available",
			"Whether the entity currently has a value",
			[]string{"entity_id", "account", "platform"},
			nil,
		),
		entityStale: prometheus.NewDesc(
			"octoit_entity_stale",
			"Whether the entity shows data kept from before a failed poll",
			[]string{"entity_id", "account", "platform"},
			nil,
		),
		coordinatorUp: prometheus.NewDesc(
			"octoit_coordinator_up",
			"Whether the last refresh of the coordinator succeeded",
			[]string{"coordinator"},
			nil,
		),
		coordinatorLastOK: prometheus.NewDesc(
			"octoit_coordinator_last_success_timestamp",
			"Unix time of the last successful refresh",
			[]string{"coordinator"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entityValue
	ch <- c.entityAvailable
	ch <- c.entityStale
	ch <- c.coordinatorUp
	ch <- c.coordinatorLastOK
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.entities.List("") {
		if !e.Enabled {
			continue
		}
		labels := []string{e.UniqueID, e.AccountNumber, string(e.Platform)}
		ch <- prometheus.MustNewConstMetric(c.entityAvailable, prometheus.GaugeValue, boolValue(e.Available), labels...)
		ch <- prometheus.MustNewConstMetric(c.entityStale, prometheus.GaugeValue, boolValue(e.Stale), labels...)
		if !e.Available {
			continue
		}
		if v, ok := e.NumericState(); ok {
			ch <- prometheus.MustNewConstMetric(c.entityValue, prometheus.GaugeValue, v, append(labels, e.Unit)...)
		}
	}

	for _, h := range c.health.Health() {
		ch <- prometheus.MustNewConstMetric(c.coordinatorUp, prometheus.GaugeValue, boolValue(h.LastUpdateSuccess), h.Name)
		if !h.LastSuccessAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.coordinatorLastOK, prometheus.GaugeValue, float64(h.LastSuccessAt.Unix()), h.Name)
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
