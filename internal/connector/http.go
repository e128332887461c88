package connector

import (
	"net/http"
	"time"
)

// NewHTTPClient creates the http client used for object storage calls.
// A zero timeout means no limit, zero idle connections keeps the default pool size.
func NewHTTPClient(timeoutSec, maxIdleConns int) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxIdleConns > 0 {
		t.MaxIdleConns = maxIdleConns
		t.MaxIdleConnsPerHost = maxIdleConns
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutSec) * time.Second,
		Transport: t,
	}
}
