package tui

import (
	"fmt"
	"image/color"
	"slices"
	"strings"

	"charm.land/bubbles/v2/help"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/evanschultz/funnel/internal/domain"
	"github.com/evanschultz/funnel/internal/history"
)

// historyPanelWidth is the fixed width of the history side panel.
const historyPanelWidth = 44

// palette groups the colors shared by every screen.
type palette struct {
	accent color.Color
	muted  color.Color
	dim    color.Color
	warn   color.Color
	ai     color.Color
}

func newPalette() palette {
	return palette{
		accent: lipgloss.Color("62"),
		muted:  lipgloss.Color("241"),
		dim:    lipgloss.Color("239"),
		warn:   lipgloss.Color("203"),
		ai:     lipgloss.Color("141"),
	}
}

// View renders the current screen.
func (m Model) View() tea.View {
	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

// render builds the text of the current screen.
func (m Model) render() string {
	switch {
	case m.err != nil:
		return "error: " + m.err.Error() + "\n\npress R to retry • q quit\n"
	case !m.ready:
		return "loading..."
	case m.session != nil:
		return m.renderEditor(newPalette())
	default:
		return m.renderPicker(newPalette())
	}
}

// renderPicker renders the funnel list.
func (m Model) renderPicker(p palette) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	subStyle := lipgloss.NewStyle().Foreground(p.muted)
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)

	heading := "  funnels"
	if m.showArchived {
		heading = "  funnels (including archived)"
	}
	sections := []string{titleStyle.Render("funnel") + subStyle.Render(heading), ""}
	if len(m.funnels) == 0 {
		sections = append(sections, "No funnels yet.", "Press N to create your first funnel.")
	}
	for idx, f := range m.funnels {
		prefix := "  "
		line := f.Name
		if idx == m.selectedFunnel {
			prefix = "│ "
			line = selectedStyle.Render(line)
		}
		meta := fmt.Sprintf("  %s • %d steps • /%s", f.Status, len(f.Steps), f.Slug)
		if f.ArchivedAt != nil {
			meta += " • archived"
		}
		sections = append(sections, prefix+line+subStyle.Render(meta))
	}
	return m.frame(strings.Join(sections, "\n"), pickerHelp{k: m.keys}, p)
}

// renderEditor renders the open funnel with its steps, description and
// optional history panel.
func (m Model) renderEditor(p palette) string {
	current := m.session.Current()
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	labelStyle := lipgloss.NewStyle().Foreground(p.muted)
	dirtyStyle := lipgloss.NewStyle().Foreground(p.warn).Bold(true)

	header := titleStyle.Render("funnel") + "  " + current.Name + labelStyle.Render("  ["+string(current.Status)+"]")
	if m.session.Dirty() {
		header += dirtyStyle.Render("  ● unsaved")
	}

	mainWidth := max(24, m.width-2)
	if m.showHistory {
		mainWidth = max(24, m.width-historyPanelWidth-3)
	}

	props := []string{
		labelStyle.Render("slug     ") + "/" + current.Slug,
		labelStyle.Render("status   ") + string(current.Status),
	}
	if current.Theme != (domain.Theme{}) {
		props = append(props, labelStyle.Render("theme    ")+strings.TrimSpace(current.Theme.PrimaryColor+" "+current.Theme.FontFamily))
	}
	keys := make([]string, 0, len(current.Settings))
	for k := range current.Settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		props = append(props, labelStyle.Render(truncate(k, 8)+strings.Repeat(" ", max(1, 9-len([]rune(truncate(k, 8))))))+current.Settings[k])
	}

	main := []string{header, "", strings.Join(props, "\n"), "", m.renderSteps(current, p)}
	if desc := m.markdown.render(current.Description, mainWidth); desc != "" {
		main = append(main, "", labelStyle.Render("description"), desc)
	}
	body := lipgloss.NewStyle().Width(mainWidth).Render(strings.Join(main, "\n"))
	if m.showHistory {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, " ", m.renderHistoryPanel(p))
	}

	keymap := editorHelp{k: m.keys, history: m.registry.Bindings()}
	return m.frame(body, keymap, p)
}

// renderSteps renders the ordered step list with the cursor.
func (m Model) renderSteps(f domain.Funnel, p palette) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(p.accent)
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	subStyle := lipgloss.NewStyle().Foreground(p.muted)

	lines := []string{titleStyle.Render(fmt.Sprintf("Steps (%d)", len(f.Steps)))}
	if len(f.Steps) == 0 {
		lines = append(lines, subStyle.Render("  (none) • n adds a step"))
	}
	for idx, step := range f.Steps {
		prefix := "  "
		name := fmt.Sprintf("%d. %s", idx+1, step.Name)
		if idx == m.selectedStep {
			prefix = "│ "
			name = selectedStyle.Render(name)
		}
		lines = append(lines, prefix+name+subStyle.Render("  "+string(step.Kind)))
	}
	return strings.Join(lines, "\n")
}

// renderHistoryPanel renders the session timeline. Applied entries are
// shown normally, undone entries faint, AI entries tagged with their batch.
func (m Model) renderHistoryPanel(p palette) string {
	timeline := m.session.Timeline()
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(p.accent)
	appliedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	undoneStyle := lipgloss.NewStyle().Foreground(p.dim).Faint(true)
	cursorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	aiStyle := lipgloss.NewStyle().Foreground(p.ai)
	timeStyle := lipgloss.NewStyle().Foreground(p.muted)

	lines := []string{titleStyle.Render(fmt.Sprintf("History (%d)", len(timeline)))}
	if len(timeline) == 0 {
		lines = append(lines, timeStyle.Render("no changes yet"))
	} else {
		marker, style := "◇", undoneStyle
		if appliedCount(timeline) == 0 {
			marker, style = "◆", appliedStyle
		}
		label := style.Render(initialStateLabel)
		if m.historyIndex == 0 {
			label = cursorStyle.Render(initialStateLabel)
		}
		lines = append(lines, style.Render(marker+" ")+label)
	}
	for idx, item := range timeline {
		marker := "○"
		style := undoneStyle
		if item.Applied {
			marker = "●"
			style = appliedStyle
		}
		label := truncate(item.Label, historyPanelWidth-22)
		if idx+1 == m.historyIndex {
			label = cursorStyle.Render(label)
		} else {
			label = style.Render(label)
		}
		line := style.Render(marker+" ") + label + " " + aiStyle.Render(sourceTag(item)) + " " + timeStyle.Render(item.Timestamp.Local().Format("15:04:05"))
		lines = append(lines, line)
	}
	lines = append(lines, "", timeStyle.Render("enter jump • esc close"))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.accent).
		Padding(0, 1).
		Width(historyPanelWidth).
		Render(strings.Join(lines, "\n"))
}

// sourceTag renders the source marker of one timeline row.
func sourceTag(item history.TimelineItem) string {
	if item.Source != history.SourceAI {
		return ""
	}
	if item.BatchID == "" {
		return "ai"
	}
	return "ai#" + truncateRunes(item.BatchID, 4)
}

// frame appends the prompt, status and help lines below content and fits
// the result to the window height.
func (m Model) frame(content string, keymap help.KeyMap, p palette) string {
	statusStyle := lipgloss.NewStyle().Foreground(p.dim)
	promptStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.accent).
		Padding(0, 1)

	sections := []string{content}
	if m.mode != modeNone {
		sections = append(sections, "", promptStyle.Render(m.input.View()))
	}
	if strings.TrimSpace(m.status) != "" && m.status != "ready" {
		sections = append(sections, "", statusStyle.Render(m.status))
	}
	body := strings.Join(sections, "\n")

	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(p.muted).
		BorderTop(true).
		BorderForeground(p.dim).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(keymap))

	if m.height > 0 {
		body = fitLines(body, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return body + "\n" + helpLine
}

// fitLines pads or truncates content to exactly maxLines lines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		lines = append(lines, make([]string, maxLines-len(lines))...)
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to limit runes with an ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	if limit == 1 {
		return string(rs[:1])
	}
	return string(rs[:limit-1]) + "…"
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
