// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicketsIssued tracks successful TicketIssuer responses.
	TicketsIssued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "issued_total",
			Help:      "Total number of tickets issued",
		},
	)

	// TicketIssueDuration tracks TicketIssuer.Issue latency.
	TicketIssueDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "issue_duration_seconds",
			Help:      "Time to issue a ticket",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
