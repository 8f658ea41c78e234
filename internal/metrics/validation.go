// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidationFailures tracks RequestValidator rejections by reason
// ("expired", "signature", "bad_nonce", "not_member", ...), so an
// operator can tell a client misconfiguration apart from an attack.
var ValidationFailures = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "failures_total",
		Help:      "Total number of request validation failures by reason",
	},
	[]string{"reason"},
)
