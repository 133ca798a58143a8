package llm

import (
	"fmt"
	"strings"
	"text/template"

	"yuzu/discussion/internal/feedback"
	"yuzu/discussion/internal/orchestrator"
	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/phase"
)

var replyTemplate = template.Must(template.New("reply").Parse(`你现在正在参加一场【{{.JobTitle}}】岗位的真实无领导小组讨论面试。
题目：{{.Topic}}
当前讨论阶段：{{.PhaseLabel}}（第 {{.Round}}/{{.MaxRounds}} 轮）

你是：{{.Name}}
性格与角色：{{.Personality}}

回复规则：
1. 绝对严禁使用 Markdown 格式（不加粗、不使用列表符号、不使用代码块）。
2. 极简主义：控制在 80 字以内，像真实人类在群面中发言一样简短有力。
3. 阶段意识（非常重要）：
   - 如果是“开局框架”：请积极提出讨论思路或认同他人思路。
   - 如果是“深入讨论”：此时所有人设应致力于为整体方案贡献idea。请针对具体细节提出建设性观点，不要仅仅是反驳，要推动共识。
   - 如果是“总结引导”：如果你是枢纽型角色，请开始收拢观点并询问是否有人自荐陈词；如果是其他角色，请确认目前共识。
   - 如果是“收尾补充”：在有人（或用户）做出总结后，请简洁地表示认同或对总结中的一个极小遗漏点做最后微调补充。
4. 针对性互动：直接回应上一个发言者（包括用户）的逻辑，避免自说自话。
5. 身份沉浸：不要提及“AI”、“面试官”、“Prompt”或“题目”。
{{- range .Notes}}
{{.}}
{{- end}}
{{- if .KeyPoints}}

{{.KeyPoints}}
{{- end}}

最近讨论历史：
{{- range .History}}
{{.}}
{{- else}}
（暂无发言，由你开场）
{{- end}}

请发表你的言论：`))

type replyData struct {
	JobTitle    string
	Topic       string
	PhaseLabel  string
	Round       int
	MaxRounds   int
	Name        string
	Personality string
	Notes       []string
	KeyPoints   string
	History     []string
}

// ReplyPrompt renders the persona prompt for one turn.
func ReplyPrompt(req orchestrator.Request) string {
	d := replyData{
		JobTitle:    req.JobTitle,
		Topic:       req.Topic,
		PhaseLabel:  req.Phase.Label(),
		Round:       req.Round,
		MaxRounds:   req.MaxRounds,
		Name:        req.Persona.Name,
		Personality: req.Persona.Personality,
		Notes:       summaryNotes(req),
		KeyPoints:   req.KeyPoints,
	}
	for _, t := range req.Transcript {
		d.History = append(d.History, t.SpeakerName+": "+t.Text)
	}
	var b strings.Builder
	if err := replyTemplate.Execute(&b, d); err != nil {
		// the template is static; only a writer failure could land here
		return fmt.Sprintf("你是%s。题目：%s。请用 80 字以内发表观点。", req.Persona.Name, req.Topic)
	}
	return b.String()
}

func summaryNotes(req orchestrator.Request) []string {
	var notes []string
	s := req.Summary
	switch {
	case s.Completed:
		notes = append(notes, "6. 总结已经完成，不要再重复总结，只做认同或极小的补充。")
	case s.Volunteered:
		notes = append(notes, "6. 已经有人自荐做总结，不要再邀请别人总结，也不要抢着总结。")
	case s.Guided:
		notes = append(notes, "6. 已有人引导进入总结，可以考虑主动自荐陈词或支持他人总结。")
	}
	if req.Persona.Role == persona.RoleStructured && req.Phase >= phase.GuidingSummary && !s.Volunteered {
		notes = append(notes, "7. 作为逻辑枢纽，请询问谁愿意来做总结汇报。")
	}
	return notes
}

// TopicPrompt asks for a group interview case for a company and role.
func TopicPrompt(company, jobTitle string) string {
	return fmt.Sprintf(`为%s的%s岗位设计一个高质量群面题。
要求分为：
【背景】行业背景与现状
【任务】核心解决问题
【核心问题】用 1. 2. 3. 编号列出需要讨论的要点
【要求】约束条件
【时间分配】各环节建议时长

禁止使用Markdown。请直接用纯文字分段输出。`, company, jobTitle)
}

// FeedbackPrompt asks for the JSON report of the human participant.
func FeedbackPrompt(req feedback.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "作为专业面试官，请深度分析以下讨论中【用户】的表现。\n岗位：%s\n题目：%s\n全场对话记录：\n", req.JobTitle, req.Topic)
	for _, t := range req.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", t.SpeakerName, t.Text)
	}
	b.WriteString(`
评估维度：
1. 发言质量：分析用户观点是否切中题目核心要害，是否提供了独特的洞察。
2. 结构贡献：用户是否在确立框架、归纳共识、化解冲突上起到关键作用。
3. 时机掌握：是否在合适的时机切入，发言是否过于碎片化。
4. 总结表现：如果用户在最后阶段做了总结陈词，请给予高权重加分。
5. 抗压能力：在被抢话或质疑时的反应。

请严格按以下 JSON 格式返回，不要包含任何其他文字或 Markdown 格式：
{
  "timing": "发言时机精准度分析（字符串）",
  "voiceShare": 0,
  "structuralContribution": "对讨论框架和进展的贡献评估（字符串）",
  "interruptionHandling": "在冲突和高压下的表现（字符串）",
  "overallScore": 0,
  "suggestions": ["改进建议1", "改进建议2", "改进建议3"]
}

注意：
- timing、structuralContribution、interruptionHandling 必须是字符串类型
- overallScore 必须是 0-100 之间的数字
- suggestions 必须是字符串数组，包含 3-5 条具体改进建议
- voiceShare 字段会被系统自动计算，你可以忽略它`)
	return b.String()
}

var markdownChars = strings.NewReplacer("*", "", "#", "", "`", "", ">", "")

// StripMarkdown removes the markdown characters models tend to emit anyway.
func StripMarkdown(s string) string {
	return strings.TrimSpace(markdownChars.Replace(s))
}

// CleanReply strips markdown and a leading "name:" echo of the speaker.
func CleanReply(p persona.Persona, s string) string {
	s = StripMarkdown(s)
	for _, name := range []string{p.Name, p.ShortName()} {
		for _, sep := range []string{"：", ":"} {
			if rest, ok := strings.CutPrefix(s, name+sep); ok {
				s = strings.TrimSpace(rest)
			}
		}
	}
	return strings.Trim(s, "\"“”")
}
