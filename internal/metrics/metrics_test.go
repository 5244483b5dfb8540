package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCommand("HOLD", "HELD")
	m.ObserveCommand("HOLD", "HELD")
	m.ObserveCommand("HOLD", "FAILED")
	m.ObservePublish(nil)
	m.ObservePublish(errors.New("down"))
	m.ObserveDeadLetter()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("HOLD", "HELD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("HOLD", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLettersTotal))

	// a second set on another registry must not collide
	assert.NotPanics(t, func() { Nop() })
}
