package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/segmentarr/internal/models"
	videoprogress "github.com/jmylchreest/segmentarr/internal/progress"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/service"
	"github.com/jmylchreest/segmentarr/pkg/format"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queues and the state of every video",
	Long: `Show the conversion and download queues and the state of every video.

With --watch the view refreshes until q is pressed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return withApp(ctx, func(a *app) error {
			load := func() (*snapshot, error) {
				return takeSnapshot(ctx, a.videos, a.cfg.Conversion.AllowHLS, a.cfg.Conversion.AllowDASH)
			}
			if statusWatch {
				return watchStatus(load, statusInterval)
			}
			snap, err := load()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), snap)
		})
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh the view until interrupted")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "refresh interval with --watch")
	rootCmd.AddCommand(statusCmd)
}

type snapshot struct {
	queues []service.QueueStatus
	videos []videoRow
	taken  time.Time
}

type videoRow struct {
	video    *models.VideoStream
	state    string
	progress videoprogress.Report
}

func takeSnapshot(ctx context.Context, videos *service.VideoService, allowHLS, allowDASH bool) (*snapshot, error) {
	queues, err := videos.Queues(ctx)
	if err != nil {
		return nil, err
	}
	all, err := videos.List(ctx, repository.VideoFilter{})
	if err != nil {
		return nil, err
	}

	snap := &snapshot{queues: queues, taken: time.Now()}
	for _, v := range all {
		row := videoRow{video: v, state: videoState(v, allowHLS, allowDASH)}
		if row.state == "converting" {
			if report, err := videos.Progress(ctx, v.ID); err == nil {
				row.progress = *report
			}
		}
		snap.videos = append(snap.videos, row)
	}
	return snap, nil
}

func videoState(v *models.VideoStream, allowHLS, allowDASH bool) string {
	switch {
	case v.IsDownloading():
		return "downloading"
	case v.IsProcessing():
		return "converting"
	case !v.HasFile() && v.HasLink():
		return "awaiting download"
	case !v.HasFile():
		return "no source"
	case (!allowHLS || v.HLSReady) && (!allowDASH || v.DASHReady):
		return "done"
	default:
		return "queued"
	}
}

func printStatus(out io.Writer, snap *snapshot) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tLENGTH\tRUNNING")
	for _, q := range snap.queues {
		running := "-"
		if q.Ongoing != nil {
			running = q.Ongoing.Title
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", q.Kind, q.Length, running)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ID\tTITLE\tSTATE\tHLS\tDASH\tDURATION\tUPDATED")
	for _, row := range snap.videos {
		v := row.video
		state := row.state
		if state == "converting" {
			state += " " + format.Percentage(row.progress.Percent, 0)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
			v.ID, v.Title, state, v.HLSReady, v.DASHReady,
			format.Clock(v.Duration), format.RelativeTimeFrom(v.UpdatedAt, snap.taken))
	}
	return w.Flush()
}

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type statusLoadedMsg struct {
	snap *snapshot
	err  error
}

type statusTickMsg time.Time

type statusModel struct {
	load     func() (*snapshot, error)
	interval time.Duration
	snap     *snapshot
	err      error
	bar      progress.Model
}

func newStatusModel(load func() (*snapshot, error), interval time.Duration) statusModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return statusModel{
		load:     load,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

func watchStatus(load func() (*snapshot, error), interval time.Duration) error {
	p := tea.NewProgram(newStatusModel(load, interval), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(statusModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

func (m statusModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.load()
		return statusLoadedMsg{snap: snap, err: err}
	}
}

func (m statusModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func (m statusModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(40, msg.Width-56))
		return m, nil
	case statusLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.snap = msg.snap
		return m, m.tickCmd()
	case statusTickMsg:
		return m, m.loadCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadCmd()
		}
	}
	return m, nil
}

func (m statusModel) View() string {
	header := statusTitleStyle.Render("segmentarr status")
	if m.snap == nil {
		return header + "\n" + statusMutedStyle.Render("loading...")
	}

	var queues []string
	for _, q := range m.snap.queues {
		line := fmt.Sprintf("%-10s %d waiting", q.Kind, q.Length)
		if q.Ongoing != nil {
			line += "  running " + statusOKStyle.Render(q.Ongoing.Title)
		}
		queues = append(queues, line)
	}

	var rows []string
	for _, row := range m.snap.videos {
		line := fmt.Sprintf("%-32s %-18s", truncate(row.video.Title, 32), row.state)
		switch row.state {
		case "converting":
			line += " " + m.bar.ViewAs(row.progress.Percent/100)
		case "no source":
			line = statusErrorStyle.Render(line)
		case "done":
			line = statusOKStyle.Render(line)
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		rows = append(rows, statusMutedStyle.Render("no videos"))
	}

	footer := statusMutedStyle.Render(fmt.Sprintf("updated %s  r refresh  q quit",
		m.snap.taken.Format(time.TimeOnly)))
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		statusPanelStyle.Render(strings.Join(queues, "\n")),
		statusPanelStyle.Render(strings.Join(rows, "\n")),
		footer,
	)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
