package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	noEnv := filepath.Join(t.TempDir(), "missing.env")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", noEnv))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestPurchaseParamCommand(t *testing.T) {
	t.Setenv("ROOT_KEY", "DCC78B3DAC5CA7409A01F45D81106753")

	out, err := execute(t, "purchase-param", "--transaction-id", "TXN-0001", "--amount", "25.5")

	require.NoError(t, err)
	assert.Equal(t, "6BF68B6C6FE1494C4B3675DCCD1321B4\n", out)
}

func TestPurchaseParamCommand_Errors(t *testing.T) {
	t.Setenv("ROOT_KEY", "DCC78B3DAC5CA7409A01F45D81106753")

	_, err := execute(t, "purchase-param", "--transaction-id", "TXN-0001", "--amount", "lots")
	assert.ErrorContains(t, err, "invalid amount")

	t.Setenv("ROOT_KEY", "")
	_, err = execute(t, "purchase-param", "--transaction-id", "TXN-0001", "--amount", "10")
	assert.ErrorContains(t, err, "root_key required")
}

func TestLookupCommand(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "querycustomerbymeternumber", r.URL.Query().Get("function"))
		if r.URL.Query().Get("meternumber") == "0000000000000" {
			fmt.Fprint(w, "errorcode=11")
			return
		}
		fmt.Fprint(w, "errorcode=0&customername=Kwame Mensah")
	}))
	defer gateway.Close()
	t.Setenv("LAISON_URL", gateway.URL)

	out, err := execute(t, "lookup", "1234567890123")
	require.NoError(t, err)
	assert.Contains(t, out, "Meter:    1234567890123")
	assert.Contains(t, out, "Customer: Kwame Mensah")

	_, err = execute(t, "lookup", "0000000000000")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "code 11"), err.Error())
}

func TestSendSMSCommand(t *testing.T) {
	got := make(chan string, 1)
	sms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.Query().Get("to") + ":" + r.URL.Query().Get("content")
	}))
	defer sms.Close()
	t.Setenv("HUBTEL_SMS", sms.URL)
	t.Setenv("CLIENT_ID", "id")
	t.Setenv("CLIENT_SECRET", "secret")

	out, err := execute(t, "send-sms", "--to", "233200000000", "--message", "hello")

	require.NoError(t, err)
	assert.Equal(t, "233200000000:hello", <-got)
	assert.Contains(t, out, "SMS sent to 233200000000.")
}
