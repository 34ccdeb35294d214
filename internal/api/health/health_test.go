package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type mockPinger struct{ fail bool }

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.fail {
		return errors.New("unreachable")
	}
	return nil
}

// TestCheckAggregation checks that the overall status follows the worst
// component, with non-critical failures only degrading it.
func TestCheckAggregation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("overall status reflects component health", prop.ForAll(
		func(storeUp, historyUp bool) bool {
			c := NewChecker("test")
			c.Register("store", &mockPinger{fail: !storeUp}, true)
			c.Register("history", &mockPinger{fail: !historyUp}, false)

			resp := c.Check(context.Background())
			if len(resp.Components) != 2 {
				return false
			}
			switch {
			case !storeUp:
				return resp.Status == StatusUnhealthy
			case !historyUp:
				return resp.Status == StatusDegraded
			default:
				return resp.Status == StatusHealthy
			}
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestHandlerStatusCodes(t *testing.T) {
	c := NewChecker("test")
	c.Register("store", &mockPinger{fail: true}, true)

	rr := httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}

	c = NewChecker("test")
	c.Register("history", &mockPinger{fail: true}, false)
	rr = httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("degraded status = %d, want 200", rr.Code)
	}
}
