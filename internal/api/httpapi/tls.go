package httpapi

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"os"
	"time"
)

// NewHTTPClient returns a client trusting caFile (system roots when empty).
// skipVerify disables certificate checks and is meant for self-signed dev servers.
func NewHTTPClient(caFile string, skipVerify bool) (*http.Client, error) {
	tcfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch {
	case skipVerify:
		tcfg.InsecureSkipVerify = true //nolint:gosec // opt-in dev flag
	case caFile != "":
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("bad CA cert")
		}
		tcfg.RootCAs = pool
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tcfg
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}
