package changelog

import "testing"

func TestNewAlertSinkWithEmptyTokenIsNoOp(t *testing.T) {
	sink, err := NewAlertSink("", 0)
	if err != nil {
		t.Fatalf("NewAlertSink with empty token must not error: %v", err)
	}
	if sink == nil {
		t.Fatal("NewAlertSink with empty token must still return a usable sink")
	}
	// Notify on a no-op sink must not panic even though bot is nil.
	sink.Notify("test message")
}

func TestNotifyOnNilSinkDoesNotPanic(t *testing.T) {
	var sink *AlertSink
	sink.Notify("test message")
}

func TestAlertFailureThresholdsOrdering(t *testing.T) {
	if AlertFailureThreshold >= ErroredFailureThreshold {
		t.Errorf("AlertFailureThreshold (%d) must be lower than ErroredFailureThreshold (%d)", AlertFailureThreshold, ErroredFailureThreshold)
	}
}
