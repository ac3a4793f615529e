package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPublishAttempt(t *testing.T) {
	tests := []struct {
		name     string
		result   string
		duration time.Duration
	}{
		{name: "success", result: "success", duration: 5 * time.Millisecond},
		{name: "retry", result: "retry", duration: 50 * time.Millisecond},
		{name: "failure", result: "failure", duration: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(PublishAttemptsTotal.WithLabelValues(tt.result))
			RecordPublishAttempt(tt.result, tt.duration)
			after := testutil.ToFloat64(PublishAttemptsTotal.WithLabelValues(tt.result))
			if after != before+1 {
				t.Errorf("PublishAttemptsTotal[%s] = %v, want %v", tt.result, after, before+1)
			}
		})
	}
}

func TestRecordQueueDrop(t *testing.T) {
	before := testutil.ToFloat64(PublishQueueDroppedTotal)
	RecordQueueDrop()
	after := testutil.ToFloat64(PublishQueueDroppedTotal)
	if after != before+1 {
		t.Errorf("PublishQueueDroppedTotal = %v, want %v", after, before+1)
	}
}

func TestRecordReconnectTransition(t *testing.T) {
	before := testutil.ToFloat64(ReconnectStateTransitions.WithLabelValues("Connecting", "Connected"))
	RecordReconnectTransition("Connecting", "Connected")
	after := testutil.ToFloat64(ReconnectStateTransitions.WithLabelValues("Connecting", "Connected"))
	if after != before+1 {
		t.Errorf("ReconnectStateTransitions = %v, want %v", after, before+1)
	}
}

func TestSetCircuitBreakerState(t *testing.T) {
	SetCircuitBreakerState("broker-publisher", 1)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("broker-publisher")); got != 1 {
		t.Errorf("CircuitBreakerState = %v, want 1", got)
	}

	SetCircuitBreakerState("broker-publisher", 0)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("broker-publisher")); got != 0 {
		t.Errorf("CircuitBreakerState = %v, want 0", got)
	}
}

func TestRecordConsumeAckAndDeadLetter(t *testing.T) {
	beforeAck := testutil.ToFloat64(ConsumeAckTotal.WithLabelValues("raw-logs"))
	RecordConsumeAck("raw-logs")
	if after := testutil.ToFloat64(ConsumeAckTotal.WithLabelValues("raw-logs")); after != beforeAck+1 {
		t.Errorf("ConsumeAckTotal = %v, want %v", after, beforeAck+1)
	}

	beforeDLQ := testutil.ToFloat64(ConsumeDeadLetterTotal.WithLabelValues("raw-logs"))
	RecordDeadLetter("raw-logs")
	if after := testutil.ToFloat64(ConsumeDeadLetterTotal.WithLabelValues("raw-logs")); after != beforeDLQ+1 {
		t.Errorf("ConsumeDeadLetterTotal = %v, want %v", after, beforeDLQ+1)
	}
}

func TestRecordPersistWrite(t *testing.T) {
	t.Run("success does not increment error counter", func(t *testing.T) {
		before := testutil.ToFloat64(PersistWriteErrors.WithLabelValues("timeout"))
		RecordPersistWrite(10*time.Millisecond, "")
		after := testutil.ToFloat64(PersistWriteErrors.WithLabelValues("timeout"))
		if after != before {
			t.Errorf("PersistWriteErrors[timeout] = %v, want unchanged at %v", after, before)
		}
	})

	t.Run("failure increments the classified error counter", func(t *testing.T) {
		before := testutil.ToFloat64(PersistWriteErrors.WithLabelValues("timeout"))
		RecordPersistWrite(2*time.Second, "timeout")
		after := testutil.ToFloat64(PersistWriteErrors.WithLabelValues("timeout"))
		if after != before+1 {
			t.Errorf("PersistWriteErrors[timeout] = %v, want %v", after, before+1)
		}
	})
}

func TestRecordSubscriberDisconnect(t *testing.T) {
	before := testutil.ToFloat64(SubscriberDisconnectsTotal.WithLabelValues("backpressure_overflow"))
	RecordSubscriberDisconnect("backpressure_overflow")
	after := testutil.ToFloat64(SubscriberDisconnectsTotal.WithLabelValues("backpressure_overflow"))
	if after != before+1 {
		t.Errorf("SubscriberDisconnectsTotal = %v, want %v", after, before+1)
	}
}

func TestRecordArchiveRun(t *testing.T) {
	t.Run("success records batch size and upload duration", func(t *testing.T) {
		before := testutil.ToFloat64(ArchiveRunsTotal.WithLabelValues("success"))
		RecordArchiveRun("success", 2500, 3*time.Second)
		after := testutil.ToFloat64(ArchiveRunsTotal.WithLabelValues("success"))
		if after != before+1 {
			t.Errorf("ArchiveRunsTotal[success] = %v, want %v", after, before+1)
		}
	})

	t.Run("skipped overlap still increments the run counter", func(t *testing.T) {
		before := testutil.ToFloat64(ArchiveRunsTotal.WithLabelValues("skipped_overlap"))
		RecordArchiveRun("skipped_overlap", 0, 0)
		after := testutil.ToFloat64(ArchiveRunsTotal.WithLabelValues("skipped_overlap"))
		if after != before+1 {
			t.Errorf("ArchiveRunsTotal[skipped_overlap] = %v, want %v", after, before+1)
		}
	})
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"))
	RecordHTTPRequest("GET", "/health", "200", 2*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"))
	if after != before+1 {
		t.Errorf("HTTPRequestsTotal = %v, want %v", after, before+1)
	}
}
