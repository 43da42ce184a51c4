package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOrder(t *testing.T) {
	before := testutil.ToFloat64(ordersTotal.WithLabelValues("accepted"))
	RecordOrder("accepted")
	after := testutil.ToFloat64(ordersTotal.WithLabelValues("accepted"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestEmptyLabelIsUnknown(t *testing.T) {
	before := testutil.ToFloat64(ignoredTotal.WithLabelValues("unknown"))
	RecordIgnored("")
	if got := testutil.ToFloat64(ignoredTotal.WithLabelValues("unknown")); got-before != 1 {
		t.Errorf("expected unknown label to be used, delta %v", got-before)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	RecordIntent("confirm")
	RecordDispatchFailure("menu")

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"orderpipe_intents_total", "orderpipe_dispatch_failures_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
