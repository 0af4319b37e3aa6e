package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    DeepLink
		wantErr bool
	}{
		{name: "instance only", raw: "rdp://build-agent-7", want: DeepLink{Instance: "build-agent-7"}},
		{name: "instance with port", raw: "rdp://lab-3:3390", want: DeepLink{Instance: "lab-3", Port: 3390}},
		{name: "username and port", raw: "rdp://ops@lab-3:3390", want: DeepLink{Instance: "lab-3", Port: 3390, Username: "ops"}},
		{name: "scheme is case insensitive", raw: "RDP://lab-3", want: DeepLink{Instance: "lab-3"}},
		{name: "surrounding whitespace trimmed", raw: "  rdp://lab-3 ", want: DeepLink{Instance: "lab-3"}},
		{name: "empty link", raw: "", wantErr: true},
		{name: "unsupported scheme", raw: "ssh://lab-3", wantErr: true},
		{name: "missing instance", raw: "rdp://", wantErr: true},
		{name: "port out of range", raw: "rdp://lab-3:70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLink(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidLink)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargets(t *testing.T) {
	m := Machine{ID: "m-1", Name: "Build Agent 7", Host: "10.0.4.17", Port: 3389, Protocol: "rdp"}

	rich := RichTarget(m)
	assert.Equal(t, TargetRich, rich.Kind)
	assert.Equal(t, "Build Agent 7", rich.DisplayName())

	bare := BareTarget(DeepLink{Instance: "lab-3", Port: 3390, Username: "ops"})
	assert.Equal(t, TargetBare, bare.Kind)
	assert.Equal(t, "lab-3:3390", bare.DisplayName())
	assert.Equal(t, "ops", bare.Machine.Username)
	assert.Equal(t, "rdp", bare.Machine.Protocol)
	assert.Empty(t, bare.Machine.ID)
}

func TestMachineAddressAndDisplayName(t *testing.T) {
	assert.Equal(t, "lab-3", Machine{Host: "lab-3"}.Address())
	assert.Equal(t, "lab-3:3390", Machine{Host: "lab-3", Port: 3390}.Address())
	assert.Equal(t, "Lab 3", Machine{Name: "Lab 3", Host: "lab-3"}.DisplayName())
	assert.Equal(t, "lab-3", Machine{Host: "lab-3"}.DisplayName())
}

func TestIdentityDisplayNameAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id := Identity{Subject: "usr_42", Email: "kim@relayport.dev", ExpiresAt: now.Add(time.Hour)}
	assert.Equal(t, "kim@relayport.dev", id.DisplayName())
	assert.Equal(t, "usr_42", Identity{Subject: "usr_42"}.DisplayName())

	assert.False(t, id.ExpiresWithin(now, 5*time.Minute))
	assert.True(t, id.ExpiresWithin(now, 2*time.Hour))
	assert.False(t, Identity{}.ExpiresWithin(now, time.Hour))
}

func TestIsCredentialFailure(t *testing.T) {
	assert.True(t, IsCredentialFailure(ErrCredentialExpired))
	assert.True(t, IsCredentialFailure(ErrCredentialRevoked))
	assert.True(t, IsCredentialFailure(fmt.Errorf("open session: %w", ErrCredentialExpired)))
	assert.False(t, IsCredentialFailure(errors.New("network down")))
	assert.False(t, IsCredentialFailure(nil))
}

func TestNewJobDescription(t *testing.T) {
	a := NewJobDescription("Connecting to lab-3…")
	b := NewJobDescription("Connecting to lab-3…")

	assert.Equal(t, "Connecting to lab-3…", a.Message)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
