package domain

import (
	"net"
	"strconv"
)

type MachineID string

// Machine is a managed remote machine from the directory.
type Machine struct {
	ID       MachineID
	Name     string
	Host     string
	Port     int
	Protocol string
	Username string
	Group    string
}

func (m Machine) Address() string {
	if m.Port <= 0 {
		return m.Host
	}
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

func (m Machine) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Address()
}
