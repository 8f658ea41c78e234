// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	if TicketsIssued == nil {
		t.Error("TicketsIssued metric is nil")
	}
	if GroupKeysIssued == nil {
		t.Error("GroupKeysIssued metric is nil")
	}
	if GroupKeyMints == nil {
		t.Error("GroupKeyMints metric is nil")
	}
	if ValidationFailures == nil {
		t.Error("ValidationFailures metric is nil")
	}
}

func TestValidationFailuresCountsByReason(t *testing.T) {
	ValidationFailures.Reset()
	ValidationFailures.WithLabelValues("expired").Inc()
	ValidationFailures.WithLabelValues("expired").Inc()
	ValidationFailures.WithLabelValues("bad_nonce").Inc()

	if got := testutil.ToFloat64(ValidationFailures.WithLabelValues("expired")); got != 2 {
		t.Errorf("expired reason count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ValidationFailures.WithLabelValues("bad_nonce")); got != 1 {
		t.Errorf("bad_nonce reason count = %v, want 1", got)
	}
}

func TestTicketsIssuedIncrements(t *testing.T) {
	before := testutil.ToFloat64(TicketsIssued)
	TicketsIssued.Inc()
	after := testutil.ToFloat64(TicketsIssued)
	if after != before+1 {
		t.Errorf("TicketsIssued after Inc = %v, want %v", after, before+1)
	}
}
