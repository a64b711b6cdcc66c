package alert

import "testing"

func TestMapCodeKnown(t *testing.T) {
	label, mapped := MapCode("warnVar", "2", KindNames)
	if !mapped || label != "호우" {
		t.Errorf("MapCode(warnVar, 2) = (%q, %v), want (호우, true)", label, mapped)
	}

	label, mapped = MapCode("warnStress", "1", LevelNames)
	if !mapped || label != "경보" {
		t.Errorf("MapCode(warnStress, 1) = (%q, %v), want (경보, true)", label, mapped)
	}
}

func TestMapCodeEmpty(t *testing.T) {
	label, mapped := MapCode("command", "", ActionNames)
	if !mapped || label != "N/A" {
		t.Errorf("MapCode(command, \"\") = (%q, %v), want (N/A, true)", label, mapped)
	}

	label, mapped = MapCode("command", "  ", ActionNames)
	if !mapped || label != "N/A" {
		t.Errorf("MapCode(command, whitespace) = (%q, %v), want (N/A, true)", label, mapped)
	}
}

func TestMapCodeLiteralNA(t *testing.T) {
	label, mapped := MapCode("cancel", "N/A", CancelNames)
	if !mapped || label != "N/A" {
		t.Errorf("MapCode(cancel, N/A) = (%q, %v), want (N/A, true)", label, mapped)
	}
}

func TestMapCodeUnknownFallsBack(t *testing.T) {
	label, mapped := MapCode("warnVar", "42", KindNames)
	if mapped {
		t.Error("unknown code reported as mapped")
	}
	if label != "UNKNOWN(warnVar:42)" {
		t.Errorf("MapCode(warnVar, 42) = %q, want UNKNOWN(warnVar:42)", label)
	}
}

func TestResultCodeName(t *testing.T) {
	if got := ResultCodeName("22"); got != "서비스 요청제한횟수 초과 (LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR)" {
		t.Errorf("ResultCodeName(22) = %q", got)
	}
	if got := ResultCodeName("77"); got != "알 수 없는 응답 코드" {
		t.Errorf("ResultCodeName(77) = %q, want unknown-code label", got)
	}
}
