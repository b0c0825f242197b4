package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Invitation is an opaque credential issued by a pub's /invited/json
// endpoint. An empty invitation means none was available.
type Invitation string

// Empty reports whether no invitation is present.
func (i Invitation) Empty() bool {
	return strings.TrimSpace(string(i)) == ""
}

// InvitationCode is the parsed form of "host:port:@key~secret".
type InvitationCode struct {
	Host   string
	Port   int
	Key    string
	Secret string
}

// String renders the code back to its wire form.
func (c InvitationCode) String() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + ":" + c.Key + "~" + c.Secret
}

// ParseInvitation splits an invitation into its parts. The host may itself
// contain colons (IPv6), so the key and port are taken from the right.
func ParseInvitation(inv Invitation) (InvitationCode, error) {
	s := strings.TrimSpace(string(inv))
	addr, secret, ok := strings.Cut(s, "~")
	if !ok || secret == "" {
		return InvitationCode{}, fmt.Errorf("%w: missing secret", ErrInvalidInvitation)
	}

	keyIdx := strings.LastIndex(addr, ":@")
	if keyIdx < 0 {
		return InvitationCode{}, fmt.Errorf("%w: missing key", ErrInvalidInvitation)
	}
	key := addr[keyIdx+1:]
	if len(key) < 2 {
		return InvitationCode{}, fmt.Errorf("%w: empty key", ErrInvalidInvitation)
	}

	host, portStr, err := net.SplitHostPort(addr[:keyIdx])
	if err != nil || host == "" {
		return InvitationCode{}, fmt.Errorf("%w: bad address %q", ErrInvalidInvitation, addr[:keyIdx])
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return InvitationCode{}, fmt.Errorf("%w: bad port %q", ErrInvalidInvitation, portStr)
	}

	return InvitationCode{Host: host, Port: port, Key: key, Secret: secret}, nil
}
