// Package keypoints extracts the numbered sub-topics of a discussion prompt and
// tracks which one the group is currently on.
package keypoints

import (
	"regexp"
	"strings"
	"sync"

	"yuzu/discussion/internal/cues"
)

// TouchCeiling is the number of turns spent on one point before the cursor moves on.
const TouchCeiling = 10

var (
	// section labels that introduce the numbered list
	sectionLabel = regexp.MustCompile(`(?i)(?:【\s*(?:核心要点|核心问题|讨论要点|要点|问题|任务)\s*】|(?:核心要点|核心问题|讨论要点|core points|key points|problems?)\s*[:：])`)
	nextSection  = regexp.MustCompile(`【[^】]{1,12}】`)
	itemMarker   = regexp.MustCompile(`(?:^|[\s；;。，,：:])(?:\d{1,2}[\.、．]|[（(]\d{1,2}[）)]|[①②③④⑤⑥⑦⑧⑨⑩])\s*`)
	trailing     = "；;。，, \t\r\n"
)

// Extract returns the numbered items of the first core-points or problem section.
// It returns nil when no such section parses.
func Extract(prompt string) []string {
	loc := sectionLabel.FindStringIndex(prompt)
	if loc == nil {
		return nil
	}
	body := prompt[loc[1]:]
	if next := nextSection.FindStringIndex(body); next != nil {
		body = body[:next[0]]
	}

	marks := itemMarker.FindAllStringIndex(body, -1)
	if len(marks) == 0 {
		return nil
	}
	var out []string
	for i, m := range marks {
		end := len(body)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		item := strings.Trim(body[m[1]:end], trailing)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Cursor is the tracker position.
type Cursor struct {
	Index   int    `json:"index"`
	Touches int    `json:"touches"`
	Total   int    `json:"total"`
	Current string `json:"current,omitempty"`
	Done    bool   `json:"done"`
}

// Tracker walks the key points forward as turns arrive. The index never decreases.
type Tracker struct {
	mu      sync.Mutex
	points  []string
	index   int
	touches int
	done    bool
}

func NewTracker(points []string) *Tracker {
	return &Tracker{points: append([]string(nil), points...)}
}

// Points returns the extracted key points.
func (t *Tracker) Points() []string {
	return append([]string(nil), t.points...)
}

// Advance records one turn against the current point and reports whether the
// cursor moved to the next point.
func (t *Tracker) Advance(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index >= len(t.points) {
		return false
	}
	t.touches++
	if t.touches < TouchCeiling && !cues.ForwardGuidance(text) {
		return false
	}
	t.index++
	t.touches = 0
	if t.index == len(t.points) {
		t.done = true
	}
	return true
}

// AllDiscussed is vacuously true when there are no key points.
func (t *Tracker) AllDiscussed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.points) == 0 || t.done
}

func (t *Tracker) Cursor() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := Cursor{Index: t.index, Touches: t.touches, Total: len(t.points), Done: len(t.points) == 0 || t.done}
	if t.index < len(t.points) {
		c.Current = t.points[t.index]
	}
	return c
}

// Context renders the cursor for a generation prompt. It is empty when there
// are no key points.
func (t *Tracker) Context() string {
	c := t.Cursor()
	if c.Total == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("题目要点：")
	for i, p := range t.Points() {
		mark := "○"
		switch {
		case i < c.Index:
			mark = "✓"
		case i == c.Index:
			mark = "→"
		}
		b.WriteString("\n" + mark + " " + p)
	}
	if c.Done {
		b.WriteString("\n所有要点都已讨论过，可以推动总结。")
	} else {
		b.WriteString("\n当前应聚焦：" + c.Current)
	}
	return b.String()
}
