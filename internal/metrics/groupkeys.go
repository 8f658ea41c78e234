// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GroupKeysIssued tracks successful GroupKeyIssuer responses.
	GroupKeysIssued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group_keys",
			Name:      "issued_total",
			Help:      "Total number of group-key responses issued",
		},
	)

	// GroupKeyMints tracks StorageManager auto-minting a fresh group
	// secret because the latest generation was stale or missing.
	GroupKeyMints = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group_keys",
			Name:      "mints_total",
			Help:      "Total number of group key auto-mint events",
		},
	)
)
