package shared

import "testing"

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	if got := Redact(input); got != "Bearer [REDACTED]" {
		t.Fatalf("expected 'Bearer [REDACTED]', got %q", got)
	}
}

func TestRedact_ProviderKeys(t *testing.T) {
	for _, input := range []string{
		"key is AIzaSyA1234567890abcdefghijklmnopqrstuvwx",
		"using sk-ant-REDACTED",
		`api_key=abcdef1234567890abcdef`,
	} {
		if got := Redact(input); got == input {
			t.Errorf("expected redaction of %q", input)
		}
	}
}

func TestRedact_EngineErrorUntouched(t *testing.T) {
	input := "LogPython: Error: Failed to find object '/Game/Props/Barrel.Barrel'"
	if got := Redact(input); got != input {
		t.Fatalf("expected no redaction, got %q", got)
	}
	if Redact("") != "" {
		t.Fatal("expected empty")
	}
}

func TestRedactEnvValue_Sensitive(t *testing.T) {
	cases := []struct {
		key, value string
		expect     string
	}{
		{"GEMINI_API_KEY", "some-secret", "[REDACTED]"},
		{"SCENECREW_AUTH_TOKEN", "abc123", "[REDACTED]"},
		{"UE5_REMOTE_CONTROL_URL", "http://localhost:30010", "http://localhost:30010"},
		{"SCENECREW_LOG_LEVEL", "info", "info"},
	}
	for _, tc := range cases {
		if got := RedactEnvValue(tc.key, tc.value); got != tc.expect {
			t.Errorf("RedactEnvValue(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.expect)
		}
	}
}
