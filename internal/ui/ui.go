package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/install"
	"github.com/alexcormier/setwp/internal/repository/receipt"
)

// Palette colours, readable on light and dark backgrounds.
var (
	warningColor = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	successColor = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// Printer writes styled output to one writer.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer
}

// New creates a Printer for w.
func New(w io.Writer) *Printer {
	return &Printer{w: w, renderer: lipgloss.NewRenderer(w)}
}

// Caveat prints the advisory of a release in a box.
func (p *Printer) Caveat(version, caveat string) {
	title := p.renderer.NewStyle().Bold(true).Foreground(warningColor).Render("setwp " + version)
	box := p.renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(warningColor).
		Padding(0, 1).
		Render(title + "\n" + caveat)

	_, _ = fmt.Fprintln(p.w, box)
}

// Versions prints catalog versions in order, marking the latest and the deprecated ones.
func (p *Printer) Versions(c *release.Catalog) {
	latest, _ := c.Latest()
	muted := p.renderer.NewStyle().Foreground(mutedColor)
	bold := p.renderer.NewStyle().Bold(true)

	for _, d := range c.Descriptors() {
		var tags []string

		if latest != nil && latest.Version == d.Version {
			tags = append(tags, "latest")
		}

		if d.Deprecated {
			tags = append(tags, "deprecated")
		}

		line := d.Version
		if len(tags) > 0 {
			line = bold.Render(d.Version) + " " + muted.Render("("+strings.Join(tags, ", ")+")")
		}

		_, _ = fmt.Fprintln(p.w, line)
	}
}

// Installed summarises a successful install.
func (p *Printer) Installed(version string, arch release.Arch, report *install.Report) {
	ok := p.renderer.NewStyle().Bold(true).Foreground(successColor)
	muted := p.renderer.NewStyle().Foreground(mutedColor)

	_, _ = fmt.Fprintf(p.w, "%s setwp %s (%s)\n", ok.Render("Installed"), version, arch)

	if report == nil {
		return
	}

	for _, f := range report.Files {
		_, _ = fmt.Fprintf(p.w, "  %s %s\n", f.Destination, muted.Render(fmt.Sprintf("%s %04o", f.Role, f.Mode.Perm())))
	}
}

// Status prints the last install receipt.
func (p *Printer) Status(r *receipt.Receipt) {
	ok := p.renderer.NewStyle().Bold(true).Foreground(successColor)
	failed := p.renderer.NewStyle().Bold(true).Foreground(errorColor)
	muted := p.renderer.NewStyle().Foreground(mutedColor)

	check := ok.Render("self-test passed")
	if !r.SelfTestPassed {
		check = failed.Render("self-test failed")
	}

	_, _ = fmt.Fprintf(p.w, "setwp %s (%s), %s\n", r.Version, r.Arch, check)
	_, _ = fmt.Fprintf(p.w, "  %s %s\n", muted.Render("installed"), r.InstalledAt.Local().Format("2006-01-02 15:04:05"))

	if r.Actor != nil {
		_, _ = fmt.Fprintf(p.w, "  %s %s@%s\n", muted.Render("by"), r.Actor.Username, r.Actor.Hostname)
	}

	_, _ = fmt.Fprintf(p.w, "  %s %s\n", muted.Render("from"), r.URL)
	_, _ = fmt.Fprintf(p.w, "  %s %s\n", muted.Render("checksum"), r.Checksum)

	for _, f := range r.Files {
		_, _ = fmt.Fprintf(p.w, "  %s %s\n", f.Path, muted.Render(string(f.Role)+" "+f.Mode))
	}
}
