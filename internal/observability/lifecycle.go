package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clubroster/clubroster/internal/lifecycle"
)

var _ lifecycle.Observer = (*Metrics)(nil)

type lifecycleCollectors struct {
	transitions *prometheus.CounterVec
	plans       *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
}

func newLifecycleCollectors(reg prometheus.Registerer) lifecycleCollectors {
	c := lifecycleCollectors{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubroster_lifecycle_transitions_total",
			Help: "Transisi status anggota yang di-commit, per status tujuan dan jenis.",
		}, []string{"to", "kind"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubroster_lifecycle_plans_total",
			Help: "Rencana rekalkulasi timeline, termasuk preview.",
		}, []string{"out_of_order", "has_changes"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubroster_lifecycle_conflicts_total",
			Help: "Commit yang ditolak karena timeline anggota berubah bersamaan.",
		}, []string{"operation"}),
	}
	reg.MustRegister(c.transitions, c.plans, c.conflicts)
	return c
}

// TransitionCommitted menghitung transisi yang tersimpan. Kind kosong dicatat sebagai "none".
func (m *Metrics) TransitionCommitted(to lifecycle.Status, kind lifecycle.Kind) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "none"
	}
	m.life.transitions.WithLabelValues(string(to), label).Inc()
}

// PlanComputed mencatat setiap rencana rekalkulasi.
func (m *Metrics) PlanComputed(outOfOrder, hasChanges bool) {
	if m == nil {
		return
	}
	m.life.plans.WithLabelValues(strconv.FormatBool(outOfOrder), strconv.FormatBool(hasChanges)).Inc()
}

// Conflict mencatat penolakan karena modifikasi bersamaan.
func (m *Metrics) Conflict(operation string) {
	if m == nil {
		return
	}
	m.life.conflicts.WithLabelValues(operation).Inc()
}
