package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/memrank-go/pkg/metrics"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "success", metrics.Result(nil))
	assert.Equal(t, "error", metrics.Result(errors.New("boom")))
}

func TestGateDecisionsCounter(t *testing.T) {
	before := testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("REINFORCE"))
	metrics.GateDecisions.WithLabelValues("REINFORCE").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("REINFORCE")))
}
