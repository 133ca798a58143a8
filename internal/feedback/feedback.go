// Package feedback holds the end-of-session report and its decoding.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"yuzu/discussion/internal/transcript"
)

var (
	ErrEmptyReport      = errors.New("feedback: empty report")
	ErrIncompleteReport = errors.New("feedback: report is missing required fields")
)

// Report is the structured evaluation of the human participant.
type Report struct {
	Timing                 string   `json:"timing"`
	VoiceShare             int      `json:"voiceShare"`
	StructuralContribution string   `json:"structuralContribution"`
	InterruptionHandling   string   `json:"interruptionHandling"`
	OverallScore           int      `json:"overallScore"`
	Suggestions            []string `json:"suggestions"`
	Fallback               bool     `json:"fallback,omitempty"`
}

// Request is what an evaluator needs to score a frozen session.
type Request struct {
	Topic      string
	JobTitle   string
	Transcript []transcript.Turn
	VoiceShare int
}

// Fallback is returned whenever the evaluator cannot produce a report.
func Fallback(voiceShare int) Report {
	return Report{
		Timing:                 "评估过程中未能获取到 AI 分析结果。",
		VoiceShare:             voiceShare,
		StructuralContribution: "无法评价结构化贡献。",
		InterruptionHandling:   "无法评价抗压表现。",
		OverallScore:           60,
		Suggestions:            []string{"建议再次提交评估或检查网络连接。"},
		Fallback:               true,
	}
}

type rawReport struct {
	Timing                 *string  `json:"timing"`
	StructuralContribution *string  `json:"structuralContribution"`
	InterruptionHandling   *string  `json:"interruptionHandling"`
	OverallScore           *float64 `json:"overallScore"`
	Suggestions            []string `json:"suggestions"`
}

// Decode parses a model response into a Report. Code fences are stripped and
// malformed JSON is repaired before decoding. The model's own voiceShare is
// ignored in favour of the locally computed one.
func Decode(raw string, voiceShare int) (Report, error) {
	s := StripFences(raw)
	if s == "" {
		return Report{}, ErrEmptyReport
	}
	if !json.Valid([]byte(s)) {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return Report{}, fmt.Errorf("feedback: repair: %w", err)
		}
		s = repaired
	}
	var r rawReport
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Report{}, fmt.Errorf("feedback: decode: %w", err)
	}
	if r.Timing == nil || r.StructuralContribution == nil || r.InterruptionHandling == nil ||
		r.OverallScore == nil || r.Suggestions == nil {
		return Report{}, ErrIncompleteReport
	}
	score := math.Round(*r.OverallScore)
	score = math.Max(0, math.Min(100, score))
	return Report{
		Timing:                 *r.Timing,
		VoiceShare:             voiceShare,
		StructuralContribution: *r.StructuralContribution,
		InterruptionHandling:   *r.InterruptionHandling,
		OverallScore:           int(score),
		Suggestions:            r.Suggestions,
	}, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
