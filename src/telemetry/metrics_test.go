package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/LucaChot/fairprice/src/kalman"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStep(t *testing.T) {
	m := New()
	est := kalman.Estimate{
		FairPrice:    99.5,
		FairVelocity: 49.7,
		QScale:       1.08,
		RScale:       1.45,
		Innovation:   100,
	}
	m.ObserveStep("BTC/USDT", 100, est)
	m.ObserveStep("BTC/USDT", 100, est)

	assert.Equal(t, 100.0, testutil.ToFloat64(m.rawPrice.WithLabelValues("BTC/USDT")))
	assert.Equal(t, 99.5, testutil.ToFloat64(m.fairPrice.WithLabelValues("BTC/USDT")))
	assert.Equal(t, 49.7, testutil.ToFloat64(m.fairVelocity.WithLabelValues("BTC/USDT")))
	assert.Equal(t, 1.08, testutil.ToFloat64(m.qScale.WithLabelValues("BTC/USDT")))
	assert.Equal(t, 1.45, testutil.ToFloat64(m.rScale.WithLabelValues("BTC/USDT")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.innovation.WithLabelValues("BTC/USDT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.observations.WithLabelValues("BTC/USDT")))
}

func TestStepError(t *testing.T) {
	m := New()
	m.StepError("ETH/USDT", KindNumerical)
	m.StepError("ETH/USDT", KindInvalidInput)
	m.StepError("ETH/USDT", KindNumerical)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepErrors.WithLabelValues("ETH/USDT", KindNumerical)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepErrors.WithLabelValues("ETH/USDT", KindInvalidInput)))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveStep("BTC/USDT", 100, kalman.Estimate{FairPrice: 99.5})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fairprice_fair_price{symbol="BTC/USDT"} 99.5`)
	assert.Contains(t, string(body), `fairprice_observations_total{symbol="BTC/USDT"} 1`)
}
