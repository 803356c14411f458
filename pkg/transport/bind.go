package transport

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/metrics"
)

// BindInRange binds a TCP listener to the first free port in the
// inclusive [min, max] range, retrying on the next port when one is
// already taken (spec §4.3, §6). Binding is attempted at most
// (max-min+1) times; exhausting the range is an Endpoint-bind error,
// fatal to the calling component per the error-handling design.
func BindInRange(host string, min, max int) (net.Listener, error) {
	if min > max {
		return nil, ctrlerrors.New(ctrlerrors.KindEndpointBind, fmt.Sprintf("empty port range [%d, %d]", min, max), nil)
	}

	var lastErr error
	for port := min; port <= max; port++ {
		addr := fmt.Sprintf("%s:%d", host, port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		metrics.WireBindRetriesTotal.Inc()
	}
	return nil, ctrlerrors.New(ctrlerrors.KindEndpointBind, fmt.Sprintf("no free port in [%d, %d]", min, max), lastErr)
}

// BindTLSInRange is BindInRange wrapped in a TLS listener using cert.
func BindTLSInRange(host string, min, max int, cert tls.Certificate) (net.Listener, error) {
	ln, err := BindInRange(host, min, max)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	return tls.NewListener(ln, cfg), nil
}
