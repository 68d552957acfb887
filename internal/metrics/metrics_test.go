package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on a private registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithRegistry(registry), WithNamespace("fw"))

		Convey("When frames flow through the pipeline", func() {
			m.FrameRead()
			m.FrameRead()
			m.FrameProcessed(3)
			m.FrameSkipped()
			m.EmbedError()
			m.StateUpdate(true)
			m.StateUpdate(true)
			m.StateUpdate(false)
			m.ObserveEmbed(20 * time.Millisecond)
			m.ObserveRank(time.Microsecond)

			Convey("Then the counters reflect them", func() {
				So(testutil.ToFloat64(m.framesRead), ShouldEqual, 2)
				So(testutil.ToFloat64(m.framesProcessed), ShouldEqual, 1)
				So(testutil.ToFloat64(m.facesDetected), ShouldEqual, 3)
				So(testutil.ToFloat64(m.framesSkipped), ShouldEqual, 1)
				So(testutil.ToFloat64(m.embedErrors), ShouldEqual, 1)
				So(testutil.ToFloat64(m.stateUpdates.WithLabelValues("accepted")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.stateUpdates.WithLabelValues("stale")), ShouldEqual, 1)
				So(testutil.CollectAndCount(m.embedLatency), ShouldEqual, 1)
			})

			Convey("Then the handler exposes them under the namespace", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
				So(rec.Code, ShouldEqual, 200)
				So(strings.Contains(rec.Body.String(), "fw_frames_read_total 2"), ShouldBeTrue)
			})
		})
	})
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	m.FrameRead()
	m.FrameProcessed(1)
	m.FrameSkipped()
	m.EmbedError()
	m.StateUpdate(false)
	m.ObserveEmbed(time.Second)
	m.ObserveRank(time.Second)
}
