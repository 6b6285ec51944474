package clierr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_ExitCode(t *testing.T) {
	assert.Equal(t, 1, KindClient.ExitCode())
	assert.Equal(t, 2, KindAuth.ExitCode())
	assert.Equal(t, 3, KindNetwork.ExitCode())
	assert.Equal(t, 4, KindSessionExpired.ExitCode())
	assert.Equal(t, 1, KindMcp.ExitCode())
}

func TestError_MessageFormatting(t *testing.T) {
	err := New(KindClient, "bad %s", "input")
	assert.Equal(t, "ClientError: bad input", err.Error())

	mcpErr := Mcp(-32000, "tool not found")
	assert.Equal(t, "mcp error -32000: tool not found", mcpErr.Error())
}

func TestRedact_BearerToken(t *testing.T) {
	in := "request failed: Authorization: Bearer abc123.def456-ghi"
	out := Redact(in)
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, "<redacted>")
}

func TestRedact_TokenFields(t *testing.T) {
	in := `{"access_token":"s3cr3t","refresh_token":"r3fr3sh","client_secret":"cs"}`
	out := Redact(in)
	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, "r3fr3sh")
	assert.NotContains(t, out, "\"cs\"")
}

func TestRedact_LeavesOrdinaryTextAlone(t *testing.T) {
	in := "session expired; run restart"
	assert.Equal(t, in, Redact(in))
}

func TestRedactHeaders(t *testing.T) {
	in := map[string]string{"Authorization": "Bearer xyz", "X-Custom": "value"}
	out := RedactHeaders(in)
	assert.Equal(t, "<redacted>", out["Authorization"])
	assert.Equal(t, "<redacted>", out["X-Custom"])
	assert.Len(t, out, 2)
}
