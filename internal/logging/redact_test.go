package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "kite****5678", MaskCredential("kiteabcd5678"))
}

func TestRedactString(t *testing.T) {
	got := RedactString(`session failed: api_key=kiteabcd5678, request_token: "reqtoken12345"`)
	assert.NotContains(t, got, "kiteabcd5678")
	assert.NotContains(t, got, "reqtoken12345")
	assert.Contains(t, got, "api_key=kite****5678")
	assert.Contains(t, got, "request_token: reqt*****2345")

	assert.Equal(t, "order placed for TCS", RedactString("order placed for TCS"))
}

func TestRedactFields(t *testing.T) {
	in := map[string]string{"api_key": "kiteabcd5678", "broker": "zerodha"}
	out := RedactFields(in)
	assert.Equal(t, "kite****5678", out["api_key"])
	assert.Equal(t, "zerodha", out["broker"])
	assert.Equal(t, "kiteabcd5678", in["api_key"], "input is not modified")
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(zerolog.New(&buf), "paper")

	LogFill(logger, "PAPER-0000ABCD", "TCS", "BUY", 10, 3000)
	assert.Contains(t, buf.String(), `"component":"paper"`)
	assert.Contains(t, buf.String(), `"event":"fill"`)
	assert.Contains(t, buf.String(), `"order_id":"PAPER-0000ABCD"`)

	buf.Reset()
	Critical(logger).Msg("Kill switch engaged")
	assert.Contains(t, buf.String(), `"critical":true`)
	assert.Contains(t, buf.String(), `"level":"error"`)
}
