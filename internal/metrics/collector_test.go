package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordCall("dial", true)
	c.RecordCall("offer", false)
	c.RecordFallback()
	c.RecordDroppedEnvelope("timestamp")
	c.RecordDroppedEnvelope("timestamp")
	c.RecordDroppedEnvelope("signature")
	c.RecordSagaConnect(2 * time.Second)
	c.RecordSagaFailure("deadline")
	c.RecordDecryptFailure()
	c.RecordUpdateMerged()
	c.RecordUpdateResent()

	snap := c.GetSnapshot()
	assert.Equal(t, int64(2), snap.CallsSent)
	assert.Equal(t, int64(1), snap.CallFailures)
	assert.Equal(t, int64(1), snap.Fallbacks)
	assert.Equal(t, int64(3), snap.DroppedEnvelopes)
	assert.Equal(t, int64(2), snap.DroppedByCheck["timestamp"])
	assert.Equal(t, int64(1), snap.SagaConnects)
	assert.Equal(t, int64(1), snap.SagaFailures)
	assert.Equal(t, int64(1), snap.DecryptFailures)
	assert.Equal(t, int64(1), snap.UpdatesMerged)
	assert.Equal(t, int64(1), snap.UpdatesResent)
	assert.InDelta(t, 2_000_000, snap.AvgConnectTime, 1000)
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.RecordCall("dial", true)
	c.Reset()

	snap := c.GetSnapshot()
	assert.Equal(t, int64(0), snap.CallsSent)
	assert.Empty(t, snap.DroppedByCheck)
}

func TestPercentileOfEmptySamples(t *testing.T) {
	c := NewCollector()
	snap := c.GetSnapshot()
	assert.Equal(t, int64(0), snap.P95ConnectTime)
	assert.Equal(t, float64(0), snap.AvgConnectTime)
}
