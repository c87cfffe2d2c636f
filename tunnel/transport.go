package tunnel

import (
	"net"
	"net/http"
	"time"
)

// transportDefaults groups the upstream pool knobs that are set once at
// construction time.
type transportDefaults struct {
	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
}

var defaultTransport = transportDefaults{
	maxIdleConns:        200,
	maxIdleConnsPerHost: 50,
	maxConnsPerHost:     100,
}

// newTransport builds the upstream transport shared by every tunnelled
// request.
//
//  1. Keep-alives stay on so connections to the upstreams are reused.
//  2. Pool limits keep a traffic burst from exhausting file descriptors on
//     either side.
//  3. IdleConnTimeout evicts connections the upstream closed silently.
//  4. responseHeader bounds how long an upstream may think before it
//     answers; 0 waits indefinitely.
//  5. Compression is left to the client: the tunnel forwards
//     Accept-Encoding and bodies as they are.
func newTransport(responseHeader time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          defaultTransport.maxIdleConns,
		MaxIdleConnsPerHost:   defaultTransport.maxIdleConnsPerHost,
		MaxConnsPerHost:       defaultTransport.maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: responseHeader,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
}
