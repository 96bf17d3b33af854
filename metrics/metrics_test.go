package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(transitionsTotal.WithLabelValues("APPROVED", TriggerActivity))
	RecordTransition("APPROVED", TriggerActivity)
	assert.Equal(t, before+1, testutil.ToFloat64(transitionsTotal.WithLabelValues("APPROVED", TriggerActivity)))

	failed := testutil.ToFloat64(notificationsTotal.WithLabelValues("error"))
	RecordNotification(errors.New("unreachable"))
	assert.Equal(t, failed+1, testutil.ToFloat64(notificationsTotal.WithLabelValues("error")))

	sweeps := testutil.ToFloat64(sweepsTotal)
	RecordSweep()
	assert.Equal(t, sweeps+1, testutil.ToFloat64(sweepsTotal))

	retries := testutil.ToFloat64(txRetriesTotal)
	RecordRetry()
	assert.Equal(t, retries+1, testutil.ToFloat64(txRetriesTotal))

	ObserveOperation("get", time.Now(), nil)
	assert.Equal(t, 1, testutil.CollectAndCount(operationDuration))
}
