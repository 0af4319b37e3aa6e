package status

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/relayport/rdx/internal/domain"
)

type RenderOptions struct {
	Now time.Time
}

func renderMachinesView(machines []domain.Machine, s styles) string {
	lines := []string{
		s.title.Render("Machines"),
		s.header.Render(fmt.Sprintf("machines: %d", len(machines))),
	}

	if len(machines) == 0 {
		lines = append(lines, s.empty.Render("No machines configured. Add one with `rdx machines add`."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	sorted := make([]domain.Machine, len(machines))
	copy(sorted, machines)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Group != sorted[j].Group {
			return sorted[i].Group < sorted[j].Group
		}
		return sorted[i].DisplayName() < sorted[j].DisplayName()
	})

	for _, machine := range sorted {
		lines = append(lines, s.section.Render(renderMachine(machine, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderMachine(machine domain.Machine, s styles) string {
	parts := []string{
		s.machine.Render(machineTitle(machine)),
		s.detail.Render(addressLine(machine)),
	}

	if machine.Group != "" {
		parts = append(parts, s.meta.Render(fmt.Sprintf("group: %s", machine.Group)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func machineTitle(machine domain.Machine) string {
	name := strings.TrimSpace(machine.Name)
	if name == "" {
		return string(machine.ID)
	}

	return fmt.Sprintf("%s (%s)", name, machine.ID)
}

func addressLine(machine domain.Machine) string {
	protocol := machine.Protocol
	if protocol == "" {
		protocol = domain.LinkScheme
	}

	line := fmt.Sprintf("%s via %s", machine.Address(), protocol)
	if machine.Username != "" {
		line += fmt.Sprintf(" as %s", machine.Username)
	}

	return line
}

func renderIdentityView(identity domain.Identity, opts RenderOptions, s styles) string {
	lines := []string{s.title.Render("Session")}

	if identity.Subject == "" {
		lines = append(lines, s.empty.Render("Not signed in. Run `rdx login` to authorize this device."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines, s.identity.Render(fmt.Sprintf("Signed in as %s", identity.DisplayName())))
	lines = append(lines, s.detail.Render(fmt.Sprintf("subject: %s", identity.Subject)))

	if !identity.IssuedAt.IsZero() {
		lines = append(lines, s.meta.Render(fmt.Sprintf("authorized: %s", identity.IssuedAt.Format("15:04 on 02 Jan"))))
	}

	if expiry, ok := expiryLine(identity, opts, s); ok {
		lines = append(lines, expiry)
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func expiryLine(identity domain.Identity, opts RenderOptions, s styles) (string, bool) {
	if identity.ExpiresAt.IsZero() {
		return "", false
	}

	now := opts.Now
	if now.IsZero() {
		return s.meta.Render(fmt.Sprintf("access token expires %s", identity.ExpiresAt.Format(time.RFC3339))), true
	}

	if identity.ExpiresAt.Before(now) {
		return s.warning.Render("access token expired; it renews on the next connection"), true
	}

	return s.meta.Render(fmt.Sprintf("access token %s", formatExpiresRelative(identity.ExpiresAt, now))), true
}

func formatExpiresRelative(expiresAt, now time.Time) string {
	remaining := expiresAt.Sub(now)

	if remaining < time.Hour {
		minutes := int(math.Ceil(remaining.Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		suffix := "minutes"
		if minutes == 1 {
			suffix = "minute"
		}
		return fmt.Sprintf("expires in %d %s (%s)", minutes, suffix, expiresAt.Format("15:04"))
	}

	if remaining < 24*time.Hour {
		hours := int(math.Ceil(remaining.Hours()))
		suffix := "hours"
		if hours == 1 {
			suffix = "hour"
		}
		return fmt.Sprintf("expires in %d %s (%s)", hours, suffix, expiresAt.Format("15:04"))
	}

	days := int(math.Ceil(remaining.Hours() / 24))
	suffix := "days"
	if days == 1 {
		suffix = "day"
	}

	return fmt.Sprintf("expires in %d %s (%s)", days, suffix, expiresAt.Format("15:04 on 02 Jan"))
}
