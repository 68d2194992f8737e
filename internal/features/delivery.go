package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/modreg"
)

// Reading is one temperature sample.
type Reading struct {
	At           time.Time `json:"at"`
	TemperatureC float64   `json:"temperature_c"`
}

// Docket is a delivery with its temperature log.
type Docket struct {
	ID       string    `json:"id"`
	Readings []Reading `json:"readings"`
}

// Compliance is the result of checking a docket.
type Compliance struct {
	DocketID     string    `json:"docket_id"`
	Compliant    bool      `json:"compliant"`
	MaxObservedC float64   `json:"max_observed_c"`
	Breaches     []Reading `json:"breaches,omitempty"`
}

// Delivery checks dockets against a temperature ceiling. Results are
// recorded with the analytics engine when it is available; checks still
// work without it.
type Delivery struct {
	modreg.BaseModule

	lookup CapabilityLookup

	mu      sync.RWMutex
	maxTemp float64
}

func NewDelivery(lookup CapabilityLookup) *Delivery {
	return &Delivery{lookup: lookup}
}

func (d *Delivery) Manifest() modreg.Manifest {
	return modreg.Manifest{
		Key:          "delivery",
		Version:      "1.0.0",
		Capabilities: []string{CapabilityDelivery},
		Dependencies: []string{"auth", "analytics"},
		ConfigSchema: modreg.ConfigSchema{Fields: []modreg.FieldSpec{
			{Name: "max_temperature_c", Type: modreg.FieldFloat, Required: true},
		}},
	}
}

func (d *Delivery) Configure(_ context.Context, cfg modreg.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxTemp = cfg.Float("max_temperature_c", 0)
	return nil
}

func (d *Delivery) Check(docket Docket) Compliance {
	d.mu.RLock()
	limit := d.maxTemp
	d.mu.RUnlock()

	c := Compliance{DocketID: docket.ID, Compliant: true}
	for i, r := range docket.Readings {
		if i == 0 || r.TemperatureC > c.MaxObservedC {
			c.MaxObservedC = r.TemperatureC
		}
		if r.TemperatureC > limit {
			c.Compliant = false
			c.Breaches = append(c.Breaches, r)
		}
	}

	if engine, ok := d.analytics(); ok {
		_ = engine.Record(Event{Name: "delivery.checked", Attrs: map[string]string{"docket": docket.ID}})
		if !c.Compliant {
			_ = engine.Record(Event{Name: "delivery.breach", Attrs: map[string]string{
				"docket":         docket.ID,
				"max_observed_c": fmt.Sprintf("%.1f", c.MaxObservedC),
			}})
		}
	}
	return c
}

func (d *Delivery) analytics() (AnalyticsEngine, bool) {
	if d.lookup == nil {
		return nil, false
	}
	impl, ok := d.lookup.GetByCapability(CapabilityAnalytics)
	if !ok {
		return nil, false
	}
	engine, ok := impl.(AnalyticsEngine)
	return engine, ok
}
