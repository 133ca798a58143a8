// Package cues holds the keyword heuristics that drive phase, key-point and
// summary-flow transitions. Every predicate works on a single utterance and is
// safe to call on human and persona text alike.
package cues

import (
	"strings"
	"unicode/utf8"
)

const (
	// SubstantiveMinLen is the minimum length of a turn that can open the deepening phase.
	SubstantiveMinLen = 40
	// LongFormLen is the length above which a turn counts as long-form delivery.
	LongFormLen = 100
)

var (
	substantive = []string{
		"方案", "计划", "规划", "分析", "数据", "挑战", "风险", "建议", "策略", "落地",
		"执行", "预算", "目标", "优先级", "解决", "措施", "指标", "成本",
		"plan", "analysis", "analyze", "challenge", "suggest", "strategy", "proposal", "risk",
	}
	summaryWords  = []string{"总结", "汇报", "陈词", "summarize", "summary", "report"}
	solicitations = []string{
		"谁来", "谁愿意", "谁想", "哪位", "有没有人", "谁可以",
		"who will", "who wants to", "anyone want",
	}
	volunteering = []string{
		"我来总结", "我来汇报", "我来做总结", "我来做个总结", "我可以总结", "由我来总结",
		"我来陈述", "我来做陈词", "我来说一下总结",
		"i'll summarize", "i will summarize", "i'll report", "i'll go",
	}
	guidance = []string{
		"进入总结", "开始总结", "该总结了", "收拢一下", "时间差不多", "梳理一下共识",
		"let's wrap up", "time to summarize",
	}
	enumeration = []string{
		"第一", "第二", "第三", "首先", "其次", "最后", "综上", "总的来说", "方面", "一是", "二是",
		"in summary", "first", "second", "aspects",
	}
	forwardVerbs = []string{
		"接下来", "下一个", "下一点", "转到", "进入下一", "我们再看", "我们来看", "再来聊", "继续看",
		"next", "move on", "moving on",
	}
	forwardNouns = []string{
		"讨论", "问题", "要点", "议题", "话题", "部分",
		"point", "topic", "issue", "question",
	}
)

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Len is the character length of an utterance.
func Len(text string) int { return utf8.RuneCountInString(text) }

// Substantive reports whether the text carries planning, analysis, challenge or
// suggestion content and is long enough to count.
func Substantive(text string) bool {
	return Len(text) > SubstantiveMinLen && containsAny(text, substantive)
}

// MentionsSummary reports whether the text mentions summarizing or reporting.
func MentionsSummary(text string) bool { return containsAny(text, summaryWords) }

// SolicitsSummary reports whether the text asks someone to summarize.
func SolicitsSummary(text string) bool {
	return MentionsSummary(text) && containsAny(text, solicitations)
}

// Volunteers reports whether the speaker claims the summary role.
func Volunteers(text string) bool { return containsAny(text, volunteering) }

// Guides reports whether the text steers the group toward a summary.
func Guides(text string) bool {
	return SolicitsSummary(text) || containsAny(text, guidance)
}

// StructuredSummary reports whether the text looks like an actual delivered
// summary: it mentions summarizing, is long-form and enumerates points.
func StructuredSummary(text string) bool {
	return Len(text) > LongFormLen && MentionsSummary(text) && containsAny(text, enumeration)
}

// LongForm reports whether the text is long or summary shaped.
func LongForm(text string) bool {
	return Len(text) > LongFormLen || MentionsSummary(text)
}

// ForwardGuidance reports whether the text explicitly moves the discussion to
// the next sub-topic.
func ForwardGuidance(text string) bool {
	return containsAny(text, forwardVerbs) && containsAny(text, forwardNouns)
}
