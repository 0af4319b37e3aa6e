package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// LinkScheme is the deep-link scheme the dispatcher accepts.
const LinkScheme = "rdp"

// DeepLink is a parsed rdp:// connection link. Instance names the machine
// as the directory knows it; port and username are optional overrides.
type DeepLink struct {
	Instance string
	Port     int
	Username string
}

func ParseLink(raw string) (DeepLink, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DeepLink{}, fmt.Errorf("%w: empty link", ErrInvalidLink)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return DeepLink{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if !strings.EqualFold(u.Scheme, LinkScheme) {
		return DeepLink{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLink, u.Scheme)
	}
	if u.Hostname() == "" {
		return DeepLink{}, fmt.Errorf("%w: missing instance", ErrInvalidLink)
	}

	link := DeepLink{Instance: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return DeepLink{}, fmt.Errorf("%w: bad port %q", ErrInvalidLink, p)
		}
		link.Port = port
	}
	if u.User != nil {
		link.Username = u.User.Username()
	}
	return link, nil
}

type TargetKind string

const (
	TargetRich TargetKind = "rich"
	TargetBare TargetKind = "bare"
)

// ConnectTarget is what the connection service receives: either a machine
// the directory knows in full, or a bare descriptor built from the link
// alone.
type ConnectTarget struct {
	Kind    TargetKind
	Machine Machine
}

func RichTarget(m Machine) ConnectTarget {
	return ConnectTarget{Kind: TargetRich, Machine: m}
}

func BareTarget(link DeepLink) ConnectTarget {
	return ConnectTarget{
		Kind: TargetBare,
		Machine: Machine{
			Host:     link.Instance,
			Port:     link.Port,
			Protocol: LinkScheme,
			Username: link.Username,
		},
	}
}

func (t ConnectTarget) DisplayName() string {
	return t.Machine.DisplayName()
}
