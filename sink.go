package calltrace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Segment is a run of text rendered in one style.
type Segment struct {
	Text string
	Role Role
}

// Line is a styled report line.
type Line []Segment

// Text returns the line without styling.
func (l Line) Text() string {
	var b strings.Builder
	for _, seg := range l {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Plain builds a single-segment line.
func Plain(text string, role Role) Line {
	return Line{{Text: text, Role: role}}
}

// Sink receives rendered reports. Group opens a nested, collapsible group
// headed by line; GroupEnd closes the innermost one.
type Sink interface {
	Group(line Line)
	Log(line Line)
	GroupEnd()
}

// ConsoleSink writes indented, colored text. Role colors are read from the
// live settings on every line.
type ConsoleSink struct {
	out     io.Writer
	cfg     *Config
	depth   int
	noColor bool
	mu      sync.Mutex
}

// NewConsoleSink creates a console sink writing to out.
func NewConsoleSink(out io.Writer, cfg *Config) *ConsoleSink {
	return &ConsoleSink{out: out, cfg: cfg}
}

// SetNoColor disables styling, e.g. when out is not a terminal.
func (c *ConsoleSink) SetNoColor(noColor bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noColor = noColor
}

// Group writes the header line and indents what follows.
func (c *ConsoleSink) Group(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write("▾ ", line)
	c.depth++
}

// Log writes one line at the current indentation.
func (c *ConsoleSink) Log(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write("  ", line)
}

// GroupEnd closes the innermost group.
func (c *ConsoleSink) GroupEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth > 0 {
		c.depth--
	}
}

func (c *ConsoleSink) write(marker string, line Line) {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", c.depth))
	b.WriteString(marker)
	var colors map[Role]string
	if c.cfg != nil {
		colors = c.cfg.view().Colors
	}
	for _, seg := range line {
		style, ok := styleFor(colors[seg.Role])
		if c.noColor || !ok {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(style.Sprint(seg.Text))
	}
	fmt.Fprintln(c.out, strings.TrimRight(b.String(), " "))
}

var colorAttributes = map[string]color.Attribute{
	"black":     color.FgBlack,
	"red":       color.FgRed,
	"green":     color.FgGreen,
	"yellow":    color.FgYellow,
	"blue":      color.FgBlue,
	"magenta":   color.FgMagenta,
	"cyan":      color.FgCyan,
	"white":     color.FgWhite,
	"hiblack":   color.FgHiBlack,
	"hired":     color.FgHiRed,
	"higreen":   color.FgHiGreen,
	"hiyellow":  color.FgHiYellow,
	"hiblue":    color.FgHiBlue,
	"himagenta": color.FgHiMagenta,
	"hicyan":    color.FgHiCyan,
	"hiwhite":   color.FgHiWhite,
	"bold":      color.Bold,
	"faint":     color.Faint,
	"italic":    color.Italic,
	"underline": color.Underline,
}

// styleFor turns a token such as "himagenta+bold" into a color.
// Unknown parts are ignored; false means the token styles nothing.
func styleFor(token string) (*color.Color, bool) {
	var attrs []color.Attribute
	for _, part := range strings.Split(strings.ToLower(token), "+") {
		if attr, ok := colorAttributes[strings.TrimSpace(part)]; ok {
			attrs = append(attrs, attr)
		}
	}
	if len(attrs) == 0 {
		return nil, false
	}
	c := color.New(attrs...)
	// Configured styles apply even when out is not a terminal.
	c.EnableColor()
	return c, true
}

// ZapSink writes each line as a structured log entry. Groups are expressed
// through the depth and group fields.
type ZapSink struct {
	logger *zap.Logger
	depth  int
	mu     sync.Mutex
}

// NewZapSink creates a sink on top of logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// Group logs the header line and increases depth.
func (z *ZapSink) Group(line Line) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.logger.Info(strings.TrimRight(line.Text(), " "), zap.Int("depth", z.depth), zap.Bool("group", true))
	z.depth++
}

// Log logs one line at the current depth.
func (z *ZapSink) Log(line Line) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.logger.Info(strings.TrimRight(line.Text(), " "), zap.Int("depth", z.depth))
}

// GroupEnd decreases depth.
func (z *ZapSink) GroupEnd() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.depth > 0 {
		z.depth--
	}
}

// RecordedLine is a line captured by RecordingSink.
type RecordedLine struct {
	Line  Line
	Depth int
	Group bool
}

// RecordingSink keeps everything it receives. Intended for tests.
type RecordingSink struct {
	lines []RecordedLine
	depth int
	mu    sync.Mutex
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Group records a group header.
func (r *RecordingSink) Group(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, RecordedLine{Line: line, Depth: r.depth, Group: true})
	r.depth++
}

// Log records a line.
func (r *RecordingSink) Log(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, RecordedLine{Line: line, Depth: r.depth})
}

// GroupEnd closes a group.
func (r *RecordingSink) GroupEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.depth > 0 {
		r.depth--
	}
}

// Lines returns a copy of the recorded lines.
func (r *RecordingSink) Lines() []RecordedLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedLine(nil), r.lines...)
}

// Depth returns the number of open groups.
func (r *RecordingSink) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth
}

// Reset discards recorded lines.
func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
	r.depth = 0
}

// String renders the recording as indented plain text.
func (r *RecordingSink) String() string {
	var b strings.Builder
	for _, l := range r.Lines() {
		b.WriteString(strings.Repeat("  ", l.Depth))
		if l.Group {
			b.WriteString("+ ")
		} else {
			b.WriteString("- ")
		}
		b.WriteString(strings.TrimRight(l.Line.Text(), " "))
		b.WriteString("\n")
	}
	return b.String()
}
