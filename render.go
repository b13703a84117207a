package calltrace

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-runewidth"
)

// Column widths of a report line.
const (
	siteWidth    = 56
	deltaWidth   = 20
	summaryWidth = 46
)

// Renderer turns completed span trees into threshold-filtered reports.
type Renderer struct {
	cfg *Config
}

// NewRenderer creates a renderer reading threshold and enablement from cfg.
func NewRenderer(cfg *Config) *Renderer {
	return &Renderer{cfg: cfg}
}

// Render writes root to sink. Nothing is written when tracing is disabled.
//
// A span is printed when its duration exceeds the threshold, when any
// descendant does, or when any ancestor does. Spans with printed children or
// a captured call path open a group.
func (r *Renderer) Render(root *Span, sink Sink) {
	settings := r.cfg.view()
	if !settings.Enabled || root == nil {
		return
	}
	visible := make(map[*Span]bool)
	markVisible(root, settings.Threshold, false, visible)
	emit(root, visible, sink)
}

// markVisible fills visible for the subtree and reports whether any span in
// it exceeds threshold.
func markVisible(s *Span, threshold time.Duration, ancestorQualifies bool, visible map[*Span]bool) bool {
	self := s.Duration > threshold
	subtree := self
	for _, child := range s.Children {
		if markVisible(child, threshold, ancestorQualifies || self, visible) {
			subtree = true
		}
	}
	if subtree || ancestorQualifies {
		visible[s] = true
	}
	return subtree
}

func emit(s *Span, visible map[*Span]bool, sink Sink) {
	if !visible[s] {
		return
	}
	line := spanLine(s)

	hasChildren := false
	for _, child := range s.Children {
		if visible[child] {
			hasChildren = true
			break
		}
	}
	if !hasChildren && s.CallPath == "" {
		sink.Log(line)
		return
	}

	sink.Group(line)
	if s.CallPath != "" {
		sink.Group(Plain("stack", RoleHighlight))
		sink.Log(Plain(s.CallPath, RoleHighlight))
		sink.GroupEnd()
	}
	for _, child := range s.Children {
		emit(child, visible, sink)
	}
	sink.GroupEnd()
}

func spanLine(s *Span) Line {
	owner := s.Kind + "."
	method := padRight(s.Method, siteWidth-runewidth.StringWidth(owner))
	line := Line{
		{Text: owner, Role: RoleLight},
		{Text: method, Role: RoleDark},
		{Text: padRight(millis(s.Duration), deltaWidth), Role: RoleHighlight},
	}
	if s.Message != "" {
		line = append(line, Segment{Text: s.Message, Role: RoleDark})
	}
	return line
}

func summaryLine(a Aggregate) Line {
	owner := a.Kind
	method := padRight("."+a.Method, summaryWidth-runewidth.StringWidth(owner))
	return Line{
		{Text: owner, Role: RoleLight},
		{Text: method, Role: RoleDark},
		{Text: "called ", Role: RoleLight},
		{Text: fmt.Sprintf("%d times for a total of ", a.Tally), Role: RoleDark},
		{Text: millis(a.Cumulative), Role: RoleHighlight},
	}
}

// renderSummary writes the per-site totals of one reporting cycle.
func renderSummary(aggs []Aggregate, sink Sink) {
	if len(aggs) == 0 {
		return
	}
	sink.Group(Plain(fmt.Sprintf("%d function calls intercepted last frame", len(aggs)), RoleDark))
	for _, a := range aggs {
		sink.Log(summaryLine(a))
	}
	sink.GroupEnd()
}

// padRight pads s to width columns, always leaving at least one space.
func padRight(s string, width int) string {
	if runewidth.StringWidth(s) >= width {
		return s + " "
	}
	return runewidth.FillRight(s, width)
}

// millis formats d as fractional milliseconds, e.g. "12.000ms".
func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64) + "ms"
}
