package orchestrator

import (
	"sort"
	"time"
)

type taskKind int

const (
	taskIdleStart taskKind = iota
	taskChain
	taskCommit
	taskHumanReply
	taskClearInterruption
)

func (k taskKind) String() string {
	switch k {
	case taskIdleStart:
		return "idle_start"
	case taskChain:
		return "chain"
	case taskCommit:
		return "commit"
	case taskHumanReply:
		return "human_reply"
	case taskClearInterruption:
		return "clear_interruption"
	default:
		return "unknown"
	}
}

type task struct {
	kind    taskKind
	at      time.Time
	attempt uint64 // commit
	text    string // commit
	marker  string // human_reply
	cap     int    // human_reply
}

// taskQueue is kept sorted by deadline. Ties keep insertion order.
type taskQueue []task

func (q *taskQueue) push(t task) {
	i := sort.Search(len(*q), func(i int) bool { return (*q)[i].at.After(t.at) })
	*q = append(*q, task{})
	copy((*q)[i+1:], (*q)[i:])
	(*q)[i] = t
}

func (q taskQueue) next() (time.Time, bool) {
	if len(q) == 0 {
		return time.Time{}, false
	}
	return q[0].at, true
}

func (q *taskQueue) popDue(now time.Time) (task, bool) {
	if len(*q) == 0 || (*q)[0].at.After(now) {
		return task{}, false
	}
	t := (*q)[0]
	*q = (*q)[1:]
	return t, true
}

func (q *taskQueue) cancel(kinds ...taskKind) {
	out := (*q)[:0]
	for _, t := range *q {
		drop := false
		for _, k := range kinds {
			if t.kind == k {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, t)
		}
	}
	*q = out
}

func (q *taskQueue) has(kind taskKind) bool {
	for _, t := range *q {
		if t.kind == kind {
			return true
		}
	}
	return false
}

func (q *taskQueue) clear() { *q = nil }

func (s *Session) schedule(t task, delay time.Duration) {
	t.at = time.Now().Add(s.opts.scale(delay))
	s.tasks.push(t)
}

func (s *Session) runDue(now time.Time) {
	for {
		t, ok := s.tasks.popDue(now)
		if !ok {
			return
		}
		s.runTask(t)
	}
}

func (s *Session) runTask(t task) {
	if s.frozen {
		return
	}
	switch t.kind {
	case taskIdleStart:
		s.idleStart()
	case taskChain:
		s.chain()
	case taskCommit:
		s.commit(t)
	case taskHumanReply:
		s.humanReply(t)
	case taskClearInterruption:
		s.clearInterruption()
	}
}
