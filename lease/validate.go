package lease

import (
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/go-secure-stdlib/strutil"
)

// loopbackNames are hostname literals that always resolve to the local
// machine and are treated like loopback addresses.
var loopbackNames = []string{"localhost", "localhost.localdomain"}

// ValidateHostPort checks the shape and safety of a target address.
//
// When relayed is false the engine would connect to the host directly, so
// loopback, private, link-local and unspecified literals are rejected:
// otherwise the direct-connect path could be used to probe networks
// internal to the engine. When relayed is true the same literals are
// permitted, because the relay is expected to reach internal networks and
// the connection originates there.
func ValidateHostPort(host string, port int, relayed bool) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrValidation)
	}
	if strings.ContainsAny(host, " /?#") {
		return fmt.Errorf("%w: host %q is not a valid hostname or address", ErrValidation, host)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d is out of range", ErrValidation, port)
	}

	if relayed {
		return nil
	}

	if strutil.StrListContains(loopbackNames, strings.ToLower(host)) {
		return fmt.Errorf("%w: host %q is a loopback address; loopback targets require a relay", ErrValidation, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback(), ip.IsUnspecified():
			return fmt.Errorf("%w: host %q is a loopback address; loopback targets require a relay", ErrValidation, host)
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return fmt.Errorf("%w: host %q is a private address; private targets require a relay", ErrValidation, host)
		}
	}

	return nil
}
