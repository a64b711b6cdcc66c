package alert

import (
	"fmt"
	"strings"
)

// Code tables for the KMA special-report feed. Values are the Korean
// labels rendered into notification messages; keys are the raw feed
// codes as strings.
var (
	// KindNames maps warnVar codes to warning kinds.
	KindNames = map[string]string{
		"1":  "강풍",
		"2":  "호우",
		"3":  "한파",
		"4":  "건조",
		"5":  "폭풍해일",
		"6":  "풍랑",
		"7":  "태풍",
		"8":  "대설",
		"9":  "황사",
		"12": "폭염",
	}

	// LevelNames maps warnStress codes to severity levels.
	LevelNames = map[string]string{
		"0": "주의보",
		"1": "경보",
	}

	// ActionNames maps command codes to announcement actions.
	ActionNames = map[string]string{
		"1": "발표",
		"2": "해제",
		"3": "연장",
		"6": "정정",
		"7": "변경발표",
		"8": "변경해제",
	}

	// CancelNames maps cancel codes to cancellation status.
	CancelNames = map[string]string{
		"0": "정상",
		"1": "취소된 특보",
	}

	// ResultCodeNames maps API result codes to their documented meaning.
	ResultCodeNames = map[string]string{
		"00": "정상 (NORMAL_CODE)",
		"01": "어플리케이션 에러 (APPLICATION_ERROR)",
		"02": "데이터베이스 에러 (DB_ERROR)",
		"03": "데이터없음 에러 (NODATA_ERROR)",
		"04": "HTTP 에러 (HTTP_ERROR)",
		"05": "서비스 연결실패 에러 (SERVICETIMEOUT_ERROR)",
		"10": "잘못된 요청 파라메터 에러 (INVALID_REQUEST_PARAMETER_ERROR)",
		"11": "필수 요청 파라메터가 없음 (NO_MANDATORY_REQUEST_PARAMETERS_ERROR)",
		"12": "해당 오픈API서비스가 없거나 폐기됨 (NO_OPENAPI_SERVICE_ERROR)",
		"20": "서비스 접근거부 (SERVICE_ACCESS_DENIED_ERROR)",
		"21": "일시적으로 사용할 수 없는 서비스 키 (TEMPORARILY_DISABLE_THE_SERVICEKEY_ERROR)",
		"22": "서비스 요청제한횟수 초과 (LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR)",
		"30": "등록되지 않은 서비스키 (SERVICE_KEY_IS_NOT_REGISTERED_ERROR)",
		"31": "기한만료된 서비스키 (DEADLINE_HAS_EXPIRED_ERROR)",
		"32": "등록되지 않은 IP (UNREGISTERED_IP_ERROR)",
		"33": "서명되지 않은 호출 (UNSIGNED_CALL_ERROR)",
		"99": "기타에러 (UNKNOWN_ERROR)",
	}
)

// CancelNormal is the label meaning the warning is in force (not
// cancelled). ActionPublish is the label for a fresh announcement.
// Message selection branches on these two values.
const (
	CancelNormal  = "정상"
	ActionPublish = "발표"
)

// notAvailable marks feed fields that were absent or explicitly "N/A".
const notAvailable = "N/A"

// MapCode resolves a raw feed code against a code table. An empty code
// maps to "N/A". Unknown codes fall back to "UNKNOWN(field:code)" and
// report mapped=false so the caller can emit a one-shot warning.
func MapCode(field, rawCode string, table map[string]string) (label string, mapped bool) {
	code := strings.TrimSpace(rawCode)
	if code == "" {
		return notAvailable, true
	}
	if label, ok := table[code]; ok {
		return label, true
	}
	if strings.EqualFold(code, notAvailable) {
		return notAvailable, true
	}
	return fmt.Sprintf("UNKNOWN(%s:%s)", field, code), false
}

// ResultCodeName returns the documented meaning of an API result code,
// or a Korean unknown-code label when unrecognized.
func ResultCodeName(code string) string {
	if name, ok := ResultCodeNames[code]; ok {
		return name
	}
	return "알 수 없는 응답 코드"
}
