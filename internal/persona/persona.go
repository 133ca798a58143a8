package persona

// Role is the behavioral role a persona plays in the discussion.
type Role string

const (
	RoleAggressive Role = "AGGRESSIVE"
	RoleStructured Role = "STRUCTURED"
	RoleDetail     Role = "DETAIL"
	RoleDistractor Role = "DISTRACTOR"
)

// HumanID is the speaker id used for the human participant.
const HumanID = "user"

// HumanName is the display name used for the human participant.
const HumanName = "你"

// Persona is an immutable scripted participant.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        Role   `json:"role"`
	Personality string `json:"personality"`
	Avatar      string `json:"avatar"`
	Color       string `json:"color"`
}

// ShortName drops the parenthesised role hint from the display name.
func (p Persona) ShortName() string {
	for i, r := range p.Name {
		if r == ' ' || r == '(' {
			return p.Name[:i]
		}
	}
	return p.Name
}

// Roster is the fixed persona set of a session.
type Roster []Persona

// Default is the roster used when none is configured.
var Default = Roster{
	{
		ID:          "char1",
		Name:        "张强 (Aggressive)",
		Role:        RoleAggressive,
		Personality: "强势控场型：开局倾向于抢占话语权。但在深入讨论环节，他会收敛锋芒，转而提出极具竞争力的战略观点，用数据或逻辑强力推动方案进展。",
		Avatar:      "https://api.dicebear.com/7.x/avataaars/svg?seed=Felix",
		Color:       "red",
	},
	{
		ID:          "char2",
		Name:        "李雅 (Structured)",
		Role:        RoleStructured,
		Personality: "逻辑枢纽型：擅长归纳提炼。在深入讨论时，她会从多维度补全方案，确保讨论不偏离核心指标。后期她会敏锐观察讨论进度，适时引导团队进入总结环节。",
		Avatar:      "https://api.dicebear.com/7.x/avataaars/svg?seed=Aneka",
		Color:       "blue",
	},
	{
		ID:          "char3",
		Name:        "王敏 (Detail)",
		Role:        RoleDetail,
		Personality: "务实执行型：关注可落地性。在深入讨论阶段，她会提出各种实际场景下的挑战，并给出可行的解决方案，为整体框架注入具体的血肉。",
		Avatar:      "https://api.dicebear.com/7.x/avataaars/svg?seed=Mia",
		Color:       "emerald",
	},
	{
		ID:          "char4",
		Name:        "赵磊 (Distractor)",
		Role:        RoleDistractor,
		Personality: "发散跑题型：思维跳跃，常抛出与主线关系不大的新点子或细枝末节的疑问，需要其他人把讨论拉回正轨，但偶尔也能带来意外的灵感。",
		Avatar:      "https://api.dicebear.com/7.x/avataaars/svg?seed=Leo",
		Color:       "amber",
	},
}

// Get returns the persona with the given id.
func (r Roster) Get(id string) (Persona, bool) {
	for _, p := range r {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// IDs returns the persona ids in roster order.
func (r Roster) IDs() []string {
	out := make([]string, len(r))
	for i, p := range r {
		out[i] = p.ID
	}
	return out
}
