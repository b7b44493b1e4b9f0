package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/permissions/school:read":    "/v1/permissions/:capability",
		"/v1/permissions/billing:manage": "/v1/permissions/:capability",
		"/v1/permissions":                "/v1/permissions",
		"/v1/session?verbose=1":          "/v1/session",
		"/console/schools":               "/console/schools",
		"/v1/permissions/a/b":            "/v1/permissions/a/b",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestLogSkipsReservedFields(t *testing.T) {
	l := Logger()
	original := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(original)

	Warn("restore failed", map[string]any{"msg": "override", "key": "jesi_auth_user"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
	if entry["msg"] != "restore failed" {
		t.Fatalf("reserved field overwritten: %v", entry["msg"])
	}
	if entry["key"] != "jesi_auth_user" {
		t.Fatalf("missing field: %v", entry)
	}
}
