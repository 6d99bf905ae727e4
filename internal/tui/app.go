package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/jobhelper/internal/ledger"
	"github.com/kingrea/jobhelper/internal/logbook"
)

const logPanelLines = 6

var (
	labelStyleSubmitted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleSkipped   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

func statusStyle(status ledger.Status) lipgloss.Style {
	switch status {
	case ledger.StatusSubmitted:
		return labelStyleSubmitted
	case ledger.StatusFailed:
		return labelStyleFailed
	case ledger.StatusPending:
		return labelStylePending
	case ledger.StatusSkipped:
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

// recordItem implements list.Item for one ledger record.
type recordItem struct {
	rec ledger.Record
	now time.Time
}

func (i recordItem) Title() string {
	return fmt.Sprintf("%s  %s", i.rec.Job, statusStyle(i.rec.Status).Render(string(i.rec.Status)))
}

func (i recordItem) Description() string {
	var parts []string
	switch {
	case i.rec.Handle != "":
		parts = append(parts, "job "+i.rec.Handle)
	case i.rec.Reason != "":
		parts = append(parts, i.rec.Reason)
	}
	if !i.rec.UpdatedAt.IsZero() {
		parts = append(parts, "updated "+humanize.RelTime(i.rec.UpdatedAt, i.now, "ago", "from now"))
	}
	return strings.Join(parts, " · ")
}

func (i recordItem) FilterValue() string { return i.rec.Job }

type ledgerLoadedMsg struct {
	records []ledger.Record
	err     error
}

type ledgerChangedMsg struct{}

type watchErrMsg struct{ err error }

// AppOption customizes the viewer.
type AppOption func(*App)

// WithLogbook shows the tail of cmd.log under the ledger.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) { a.logbook = book }
}

// WithFollow reloads the ledger whenever its file changes.
func WithFollow(follow bool) AppOption {
	return func(a *App) { a.follow = follow }
}

// WithClock overrides the time used for relative timestamps.
func WithClock(now func() time.Time) AppOption {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// App is the bubbletea model behind jh view.
type App struct {
	ledgerPath string
	logbook    *logbook.Logbook
	follow     bool
	now        func() time.Time

	list    list.Model
	records []ledger.Record
	loaded  bool
	err     error
	watcher *fsnotify.Watcher
	width   int
	height  int
}

// NewApp creates a viewer for the ledger at ledgerPath.
func NewApp(ledgerPath string, opts ...AppOption) *App {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Ledger"
	l.SetShowStatusBar(false)
	app := &App{ledgerPath: ledgerPath, list: l, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Run starts the program in the alternate screen and blocks until the user
// quits or ctx is cancelled.
func Run(ctx context.Context, app *App) error {
	if app.follow {
		if err := app.startWatch(); err != nil {
			return err
		}
	}
	defer app.Close()
	_, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops the file watcher.
func (a *App) Close() error {
	if a.watcher == nil {
		return nil
	}
	err := a.watcher.Close()
	a.watcher = nil
	return err
}

// The directory is watched rather than the file because ledger writes
// replace the file by rename.
func (a *App) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tui: watch ledger: %w", err)
	}
	if err := w.Add(filepath.Dir(a.ledgerPath)); err != nil {
		w.Close()
		return fmt.Errorf("tui: watch %s: %w", filepath.Dir(a.ledgerPath), err)
	}
	a.watcher = w
	return nil
}

func (a *App) Init() tea.Cmd {
	if a.watcher != nil {
		return tea.Batch(a.loadLedger(), a.waitForChange())
	}
	return a.loadLedger()
}

func (a *App) loadLedger() tea.Cmd {
	path := a.ledgerPath
	return func() tea.Msg {
		l, err := ledger.Open(path)
		if err != nil {
			return ledgerLoadedMsg{err: err}
		}
		return ledgerLoadedMsg{records: l.Snapshot()}
	}
}

func (a *App) waitForChange() tea.Cmd {
	w := a.watcher
	if w == nil {
		return nil
	}
	name := filepath.Base(a.ledgerPath)
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) == name && !event.Has(fsnotify.Chmod) {
					return ledgerChangedMsg{}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		a.resize()
		return a, nil
	case ledgerLoadedMsg:
		a.loaded = true
		a.err = m.err
		if m.err == nil {
			a.setRecords(m.records)
		}
		return a, nil
	case ledgerChangedMsg:
		return a, tea.Batch(a.loadLedger(), a.waitForChange())
	case watchErrMsg:
		a.err = m.err
		return a, a.waitForChange()
	case tea.KeyMsg:
		if a.list.FilterState() != list.Filtering {
			switch m.String() {
			case "q", "ctrl+c":
				return a, tea.Quit
			case "r":
				return a, a.loadLedger()
			}
		}
	}
	var cmd tea.Cmd
	a.list, cmd = a.list.Update(msg)
	return a, cmd
}

func (a *App) setRecords(records []ledger.Record) {
	a.records = records
	now := a.now()
	items := make([]list.Item, len(records))
	for i, rec := range records {
		items[i] = recordItem{rec: rec, now: now}
	}
	a.list.SetItems(items)
}

func (a *App) resize() {
	reserved := 8
	if a.logbook != nil {
		reserved += logPanelLines + 3
	}
	a.list.SetSize(max(20, a.width/2), max(4, a.height-reserved))
}

func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ LEDGER · " + a.ledgerPath)
	if !a.loaded {
		return header + "\nLoading ledger…"
	}
	if a.err != nil {
		return header + "\n" + labelStyleFailed.Render(fmt.Sprintf("Ledger error: %v", a.err))
	}
	var body string
	if len(a.records) == 0 {
		body = detailTextStyle.Render("No submissions recorded yet.")
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top, a.list.View(), "  ", a.renderDetail())
	}
	sections := []string{header, a.renderSummary(), body}
	if panel := a.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render("↑/↓ select · / filter · r reload · q quit")
	sections = append(sections, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) renderSummary() string {
	counts := map[ledger.Status]int{}
	for _, rec := range a.records {
		counts[rec.Status]++
	}
	var parts []string
	for _, status := range []ledger.Status{ledger.StatusSubmitted, ledger.StatusPending, ledger.StatusFailed, ledger.StatusSkipped} {
		if counts[status] > 0 {
			parts = append(parts, statusStyle(status).Render(fmt.Sprintf("%d %s", counts[status], status)))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " · ")
}

func (a *App) selected() (ledger.Record, bool) {
	item, ok := a.list.SelectedItem().(recordItem)
	if !ok {
		return ledger.Record{}, false
	}
	return item.rec, true
}

func (a *App) renderDetail() string {
	rec, ok := a.selected()
	if !ok {
		return ""
	}
	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render(rec.Job),
		"status:  " + statusStyle(rec.Status).Render(string(rec.Status)),
	}
	if rec.Handle != "" {
		lines = append(lines, "handle:  "+rec.Handle)
	}
	if rec.Reason != "" {
		lines = append(lines, "reason:  "+rec.Reason)
	}
	if len(rec.BlockedBy) > 0 {
		lines = append(lines, "blocked: "+strings.Join(rec.BlockedBy, ", "))
	}
	if rec.RunID != "" {
		lines = append(lines, "run:     "+rec.RunID)
	}
	if !rec.UpdatedAt.IsZero() {
		lines = append(lines, "updated: "+rec.UpdatedAt.Format(time.RFC3339))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(detailTextStyle.Render(strings.Join(lines, "\n")))
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d entries)", filepath.Base(a.logbook.Path()), total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
