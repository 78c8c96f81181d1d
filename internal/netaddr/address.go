// Package netaddr defines the single address type used on the wire and
// throughout the ring: a (host, port) pair encoded as a 2-element JSON
// array.
package netaddr

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
)

// Address identifies a peer or a dial target: a host and a TCP port.
type Address struct {
	Host string
	Port int
}

// New builds an Address from a host and port.
func New(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// Parse splits a "host:port" string into an Address.
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("netaddr: parse %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("netaddr: parse port %q: %w", portStr, err)
	}
	return Address{Host: host, Port: port}, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// Equal reports whether a and o name the same peer.
func (a Address) Equal(o Address) bool {
	return a.Host == o.Host && a.Port == o.Port
}

// MarshalJSON encodes the address as the wire's 2-element [host, port] array.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.Host, a.Port})
}

// UnmarshalJSON decodes the wire's 2-element [host, port] array.
func (a *Address) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("netaddr: decode address pair: %w", err)
	}

	var host string
	if err := json.Unmarshal(pair[0], &host); err != nil {
		return fmt.Errorf("netaddr: decode host: %w", err)
	}

	var port int
	if err := json.Unmarshal(pair[1], &port); err != nil {
		return fmt.Errorf("netaddr: decode port: %w", err)
	}

	a.Host, a.Port = host, port
	return nil
}
