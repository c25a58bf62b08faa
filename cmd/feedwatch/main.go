package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/betbot/bucketmm/internal/config"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/pkg/marketspec"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// refreshInterval 盘口刷新间隔
const refreshInterval = 250 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	bidStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	askStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	staleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("3")) // 黄色

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type model struct {
	spec   marketspec.MarketSpec
	reader *feed.RingReader

	tob      domain.TopOfBook
	hasData  bool
	written  int64
	lastSeen time.Time
}

// tickMsg 定时器消息
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func initialModel(spec marketspec.MarketSpec, reader *feed.RingReader) model {
	return model{spec: spec, reader: reader}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		if tob, ok := m.reader.Load(); ok {
			if tob.Seq != m.tob.Seq {
				m.lastSeen = time.Now()
			}
			m.tob = tob
			m.hasData = true
		}
		m.written = m.reader.Written()
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	if !m.hasData {
		s.WriteString(headerStyle.Render(fmt.Sprintf("行情监视: %s-%s-%s", m.spec.Symbol, m.spec.Kind, m.spec.Timeframe)))
		s.WriteString("\n\n等待数据...（feedwriter 在运行吗？）\n\n按 q 退出")
		return s.String()
	}

	age := time.Since(time.UnixMilli(m.tob.TsMs))
	ageStr := fmt.Sprintf("数据更新: %v前", age.Round(100*time.Millisecond))
	if age > 3*time.Second {
		ageStr = staleStyle.Render(fmt.Sprintf("⚠️ 数据过期: %v前", age.Round(time.Second)))
	}

	slug := m.spec.Slug(m.tob.BucketTS)
	remaining := time.Duration(m.spec.RemainingSec(m.tob.BucketTS, time.Now())) * time.Second
	header := headerStyle.Render(fmt.Sprintf("%s | 剩余 %s | %s", slug, remaining, ageStr))
	s.WriteString(header)
	s.WriteString("\n\n")

	yesBook := renderLeg("YES (UP)", m.tob.YesBid, m.tob.YesAsk)
	noBook := renderLeg("NO (DOWN)", m.tob.NoBid, m.tob.NoAsk)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, yesBook, "  ", noBook))
	s.WriteString("\n\n")

	// 买一之和偏离 1 太多说明簿有一边滞后
	bidSum := m.tob.YesBid.ToDecimal() + m.tob.NoBid.ToDecimal()
	s.WriteString(dimStyle.Render(fmt.Sprintf("bid合计=%.2f  帧序号=%d  累计写入=%d", bidSum, m.tob.Seq, m.written)))
	s.WriteString("\n\n按 q 退出")

	return s.String()
}

// renderLeg 单条腿的盘口面板
func renderLeg(title string, bid, ask domain.Price) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if ask.IsZero() {
		b.WriteString(dimStyle.Render("卖一:   --"))
	} else {
		b.WriteString(askStyle.Render(fmt.Sprintf("卖一: %s", ask)))
	}
	b.WriteString("\n")

	if bid.IsZero() {
		b.WriteString(dimStyle.Render("买一:   --"))
	} else {
		b.WriteString(bidStyle.Render(fmt.Sprintf("买一: %s", bid)))
	}
	b.WriteString("\n")

	if !bid.IsZero() && !ask.IsZero() {
		spread := ask.ToDecimal() - bid.ToDecimal()
		b.WriteString(dimStyle.Render(fmt.Sprintf("价差: %.2f", spread)))
	} else {
		b.WriteString(dimStyle.Render("价差:   --"))
	}

	return borderStyle.Render(b.String())
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "配置文件路径（.yaml/.json，为空时用内置默认值）")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	spec, err := cfg.MarketSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "market 配置无效: %v\n", err)
		os.Exit(1)
	}

	reader, err := feed.OpenRingReader(feed.ShmPath(cfg.Feed.ShmName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开行情共享内存失败: %v\n先启动 feedwriter。\n", err)
		os.Exit(1)
	}
	defer reader.Close()

	if len(os.Getenv("DEBUG")) > 0 {
		f, err := tea.LogToFile("debug.log", "debug")
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
	}

	p := tea.NewProgram(initialModel(spec, reader), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("运行程序失败: %v", err)
	}
}
