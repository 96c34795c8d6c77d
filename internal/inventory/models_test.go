package inventory

import "testing"

func TestStatusIndexOrdering(t *testing.T) {
	if StatusUnmanaged.Index() >= StatusValidating.Index() {
		t.Fatalf("Unmanaged should sort before Validating")
	}

	if StatusValidated.Index() >= StatusProvisioning.Index() {
		t.Fatalf("Validated should sort before Provisioning")
	}

	if StatusProvisioned.Index() >= StatusDeployed.Index() {
		t.Fatalf("Provisioned should sort before Deployed")
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusValidated.Valid() {
		t.Fatalf("StatusValidated should be valid")
	}

	if Status("bogus").Valid() {
		t.Fatalf("bogus status should be invalid")
	}
}

func TestTargetStatusValid(t *testing.T) {
	for _, ts := range []TargetStatus{TargetUnmanaged, TargetValidated, TargetProvisioned, TargetDeployed} {
		if !ts.Valid() {
			t.Fatalf("%s should be a valid target status", ts)
		}
	}

	if TargetStatus("Validating").Valid() {
		t.Fatalf("Validating is not a settable target status")
	}
}

func TestTruncateMessageKeepsTail(t *testing.T) {
	long := ""
	for i := 0; i < MaxMessageBytes+50; i++ {
		long += "x"
	}

	long += "END"

	got := TruncateMessage(long)
	if len(got) != MaxMessageBytes {
		t.Fatalf("expected length %d, got %d", MaxMessageBytes, len(got))
	}

	if got[len(got)-3:] != "END" {
		t.Fatalf("expected truncated message to keep tail, got %q", got[len(got)-10:])
	}
}

func TestTruncateMessageShortUnchanged(t *testing.T) {
	short := "boot failed"
	if TruncateMessage(short) != short {
		t.Fatalf("short message should be unchanged")
	}
}
