package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_ReplacesDotsAndNonAlnum(t *testing.T) {
	assert.Equal(t, "queue_failed_accounts_depth", sanitize("queue.failed_accounts.depth"))
}

func TestSanitize_LeavesAlphanumericUntouched(t *testing.T) {
	assert.Equal(t, "abc123", sanitize("abc123"))
}

func TestObserveCrawlDuration_UpdatesGaugeInMilliseconds(t *testing.T) {
	ObserveCrawlDuration(2500 * time.Millisecond)
	assert.Equal(t, int64(2500), CrawlDurationGauge.Value())
}

func TestHandler_ServesPrometheusTextFormat(t *testing.T) {
	InFlightCrawlsGauge.Update(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "alhafiz_crawl_in_flight")
}

func TestRegistry_GaugesAreRegisteredOnce(t *testing.T) {
	count := 0
	Registry.Each(func(name string, i interface{}) { count++ })
	assert.GreaterOrEqual(t, count, 5)
}
