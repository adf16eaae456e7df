package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/history"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/session"
	"github.com/mbd888/scamshield/pkg/client"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	idStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	scamStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	safeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))

	levelStyles = map[risk.Level]lipgloss.Style{
		risk.LevelSafe:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		risk.LevelMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		risk.LevelHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		risk.LevelCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer, color bool) *printer {
	return &printer{w: w, color: color}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) linef(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) field(label, value string) {
	fmt.Fprintf(p.w, "%s %s\n", p.style(labelStyle, fmt.Sprintf("%-10s", label+":")), value)
}

func (p *printer) verdict(scam bool) string {
	if scam {
		return p.style(scamStyle, "SCAM")
	}
	return p.style(safeStyle, "no scam")
}

func (p *printer) level(score float64, level risk.Level) string {
	return p.style(levelStyles[level], fmt.Sprintf("%3.0f%% %s", score*100, level))
}

func (p *printer) info(info *client.Info) {
	p.field("Server", info.Name+" "+info.Version)
	p.field("Backends", strings.Join(info.Backends, ", ")+" (default "+info.DefaultBackend+")")
	p.field("Capture", info.Capture)
	p.field("History", fmt.Sprintf("%d calls", info.HistorySize))
	p.field("Archive", yesNo(info.Archive))
	p.field("Webhook", yesNo(info.AlertWebhook))
	p.field("Watchers", fmt.Sprintf("%d connected (peak %d)", info.Realtime.Clients, info.Realtime.PeakClients))
}

func (p *printer) session(s *session.Session) {
	if s.ID != "" {
		p.field("Session", p.style(idStyle, s.ID))
	}
	p.field("State", string(s.State))
	p.field("Backend", s.Backend)
	if s.Elapsed > 0 {
		rec := fmt.Sprintf("%.1fs", s.Elapsed)
		if s.StopCause != "" {
			rec += " (" + string(s.StopCause) + ")"
		}
		p.field("Recorded", rec)
	}
	if s.Error != nil {
		p.field("Error", s.Error.Message+" ["+s.Error.Kind+"]")
	}
	if r := s.Result; r != nil {
		p.field("Verdict", p.verdict(r.ScamDetected))
		p.field("Risk", p.level(r.RiskScore, r.RiskLevel))
		if r.Degraded {
			p.field("Note", "analyzer output was incomplete")
		}
		if r.Summary != "" {
			p.field("Summary", r.Summary)
		}
		if r.LogicReason != "" {
			p.field("Red flag", r.LogicReason)
		}
		if len(r.Keywords) > 0 {
			p.field("Keywords", strings.Join(r.Keywords, ", "))
		}
		if r.Suggestion != "" {
			p.field("Advice", r.Suggestion)
		}
	}
	if s.CallID != "" {
		p.field("Archived", p.style(idStyle, s.CallID))
	}
}

func (p *printer) stats(s *history.Stats) {
	p.field("Calls", fmt.Sprintf("%d (scam %d, legitimate %d)", s.Total, s.ScamCount, s.LegitimateCount))
	p.field("Avg risk", fmt.Sprintf("%.0f%%", s.AverageRiskScore*100))
	var parts []string
	for _, level := range risk.Levels {
		if n := s.ByLevel[level]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", level, n))
		}
	}
	if len(parts) > 0 {
		p.field("By level", strings.Join(parts, " "))
	}
	fmt.Fprintln(p.w)
}

func (p *printer) history(page *client.HistoryPage) {
	if len(page.Entries) == 0 {
		p.linef("No calls analyzed yet.")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVERDICT\tRISK\tLENGTH\tRED FLAG")
	for _, e := range page.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0fs\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), p.verdict(e.ScamDetected), p.level(e.RiskScore, e.RiskLevel),
			e.DurationSeconds, e.LogicReason)
	}
	_ = tw.Flush()
}

func (p *printer) alert(a *alert.Alert) {
	if a == nil {
		p.linef("No open alert.")
		return
	}
	p.field("Alert", p.style(idStyle, a.ID)+" ("+string(a.State)+")")
	p.field("Verdict", p.verdict(a.ScamDetected))
	p.field("Risk", p.level(a.RiskScore, a.RiskLevel))
	p.field("Raised", a.RaisedAt.Local().Format(time.DateTime))
	if a.Replaced > 0 {
		p.field("Updated", fmt.Sprintf("%d time(s) by later calls", a.Replaced))
	}
	if a.LogicReason != "" {
		p.field("Red flag", a.LogicReason)
	}
	if a.Suggestion != "" {
		p.field("Advice", a.Suggestion)
	}
}

func (p *printer) calls(page *client.CallsPage) {
	if len(page.Calls) == 0 {
		p.linef("No archived calls.")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tVERDICT\tRISK\tBACKEND")
	for _, c := range page.Calls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.CreatedAt.Local().Format(time.DateTime), p.verdict(c.ScamDetected), p.level(c.RiskScore, c.RiskLevel), c.Backend)
	}
	_ = tw.Flush()
	if page.HasMore {
		p.linef("\nMore: shieldctl calls --cursor %s", page.NextCursor)
	}
}

func (p *printer) call(c *archive.Call) {
	p.field("Call", p.style(idStyle, c.ID))
	p.field("Session", c.SessionID)
	p.field("Recorded", fmt.Sprintf("%s, %.0fs", c.CreatedAt.Local().Format(time.DateTime), c.DurationSeconds))
	p.field("Backend", c.Backend)
	p.field("Verdict", p.verdict(c.ScamDetected))
	p.field("Risk", p.level(c.RiskScore, c.RiskLevel))
	if c.LogicReason != "" {
		p.field("Red flag", c.LogicReason)
	}

	ids := make([]string, 0, len(c.Speakers))
	for id := range c.Speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sp := c.Speakers[id]
		line := fmt.Sprintf("%.0f%%", sp.RiskScore*100)
		if sp.IsPotentialScammer {
			line += ", " + p.style(scamStyle, "potential scammer")
		}
		if len(sp.Keywords) > 0 {
			line += ", " + strings.Join(sp.Keywords, ", ")
		}
		p.field(id, line)
	}

	if c.Transcript != "" {
		p.linef("\n%s", c.Transcript)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
