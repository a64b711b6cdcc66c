package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestRedactPatterns(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		wantGone string
		wantKeep string
	}{
		{
			name:     "service key in query form",
			in:       "fetch failed: https://apis.data.go.kr/1360000/wthr?serviceKey=AbC123xyz&pageNo=1",
			wantGone: "AbC123xyz",
			wantKeep: "serviceKey=***",
		},
		{
			name:     "service key case-insensitive",
			in:       "servicekey=SECRETVALUE&dataType=XML",
			wantGone: "SECRETVALUE",
			wantKeep: "servicekey=***",
		},
		{
			name:     "dooray hook path",
			in:       "post https://hook.dooray.com/services/123/456/tokenvalue: connection refused",
			wantGone: "123/456/tokenvalue",
			wantKeep: "/services/***",
		},
		{
			name:     "generic api key pair",
			in:       `config dump: api_key=topsecret timeout=5`,
			wantGone: "topsecret",
			wantKeep: "api_key=***",
		},
		{
			name:     "token in json form",
			in:       `{"token": "abcdef"}`,
			wantGone: "abcdef",
			wantKeep: "token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Redact(tc.in)
			if strings.Contains(got, tc.wantGone) {
				t.Errorf("Redact(%q) = %q, still contains %q", tc.in, got, tc.wantGone)
			}
			if !strings.Contains(got, tc.wantKeep) {
				t.Errorf("Redact(%q) = %q, missing %q", tc.in, got, tc.wantKeep)
			}
		})
	}
}

func TestRedactRegisteredSecret(t *testing.T) {
	t.Cleanup(ResetSecrets)
	RegisterSecret("raw-service-key-value")
	RegisterSecret("   ")

	got := Redact("upstream rejected key raw-service-key-value with 401")
	if strings.Contains(got, "raw-service-key-value") {
		t.Errorf("registered secret survived redaction: %q", got)
	}
	if !strings.Contains(got, "***") {
		t.Errorf("no mask in %q", got)
	}

	// A blank registration must not mangle unrelated text.
	if plain := Redact("nothing sensitive here"); plain != "nothing sensitive here" {
		t.Errorf("clean string altered: %q", plain)
	}
}

func TestRedactError(t *testing.T) {
	t.Cleanup(ResetSecrets)
	RegisterSecret("hunter2")

	if got := RedactError(nil); got != "" {
		t.Errorf("RedactError(nil) = %q, want empty", got)
	}

	err := errors.New("webhook https://hook.dooray.com/services/1/2/hunter2 unreachable")
	got := RedactError(err)
	if strings.Contains(got, "hunter2") {
		t.Errorf("secret survived in %q", got)
	}
}

func TestRedactEmptyString(t *testing.T) {
	if got := Redact(""); got != "" {
		t.Errorf("Redact(\"\") = %q", got)
	}
}
