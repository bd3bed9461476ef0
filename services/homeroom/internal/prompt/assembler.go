package prompt

import (
	"fmt"
	"sort"
	"strings"

	"homeroom/services/homeroom/internal/domain"
)

type Options struct {
	History []domain.Message
	Profile *domain.Profile
	Items   []domain.PendingItem
	Image   *domain.Image
	Subject string
}

// Build assembles the outbound message list: one system message, the
// persona's few-shot turns, the tail of history and the current user turn.
func Build(p domain.Persona, task domain.TaskKind, userText string, opts Options) []domain.Message {
	history := Window(opts.History, HistoryWindow)

	msgs := make([]domain.Message, 0, 2+len(p.FewShot)+len(history))
	msgs = append(msgs, domain.Message{
		Role:    domain.RoleSystem,
		Content: SystemPrompt(p, task, opts),
	})
	msgs = append(msgs, p.FewShot...)
	for _, h := range history {
		role := h.Role
		if role == domain.RoleSystem {
			role = domain.RoleUser
		}
		msgs = append(msgs, domain.Message{Role: role, Content: h.Content})
	}
	msgs = append(msgs, domain.Message{
		Role:    domain.RoleUser,
		Content: userText,
		Image:   opts.Image,
	})
	return msgs
}

// SystemPrompt renders the single system message for a persona and task.
func SystemPrompt(p domain.Persona, task domain.TaskKind, opts Options) string {
	sections := []string{
		baseRules,
		fmt.Sprintf("あなたは「%s」（担当: %s）です。\n話し方: %s", p.DisplayName, p.Subject, p.Style),
	}
	if p.ToneRules != "" {
		sections = append(sections, "口調: "+p.ToneRules)
	}
	sections = append(sections, taskRules(p, task, opts), prohibitions(task))
	if block := profileBlock(opts.Profile); block != "" {
		sections = append(sections, block)
	}
	return strings.Join(sections, "\n\n")
}

// Window keeps the last n non-empty messages, oldest dropped first.
func Window(history []domain.Message, n int) []domain.Message {
	kept := make([]domain.Message, 0, len(history))
	for _, h := range history {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		kept = append(kept, h)
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}

// SortItems orders by due date, undated items last, otherwise stable.
func SortItems(items []domain.PendingItem) []domain.PendingItem {
	out := append([]domain.PendingItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Due, out[j].Due
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}
