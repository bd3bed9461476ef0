package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeroom/services/homeroom/internal/domain"
)

// Accepted body keys, in priority order.
var (
	textKeys     = []string{"text", "message", "content"}
	teacherKeys  = []string{"teacher", "teacher_id", "persona", "personaId"}
	questionKeys = []string{"question", "text", "problem"}
)

const maxImageBytes = 6 << 20

var errImageTooLarge = errors.New("image is too large")

// body is a loosely typed JSON object so several key spellings can be read.
type body map[string]json.RawMessage

// str returns the first key holding a non-empty string (or number).
func (b body) str(keys ...string) string {
	for _, k := range keys {
		raw, ok := b[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func (b body) decode(key string, v any) (bool, error) {
	raw, ok := b[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("%s: %w", key, err)
	}
	return true, nil
}

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (b body) history() ([]domain.Message, error) {
	var items []historyItem
	if _, err := b.decode("history", &items); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, it := range items {
		msgs = append(msgs, domain.Message{Role: domain.ParseRole(it.Role), Content: it.Content})
	}
	return msgs, nil
}

type profileBody struct {
	Name  string `json:"name"`
	Grade string `json:"grade"`
	Goal  string `json:"goal"`
}

func (b body) profile() (*domain.Profile, error) {
	var p profileBody
	found, err := b.decode("profile", &p)
	if err != nil || !found {
		return nil, err
	}
	prof := &domain.Profile{
		Name:  strings.TrimSpace(p.Name),
		Grade: strings.TrimSpace(p.Grade),
		Goal:  strings.TrimSpace(p.Goal),
	}
	if prof.Empty() {
		return nil, nil
	}
	return prof, nil
}

// image reads either a data URL or bare base64 with a separate mime field.
func (b body) image() (*domain.Image, error) {
	data := b.str("image", "image_base64", "imageBase64")
	if data == "" {
		return nil, nil
	}
	if len(data) > maxImageBytes {
		return nil, errImageTooLarge
	}
	mime := b.str("image_mime", "imageMime", "mime")
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, errors.New("image: expected a base64 data URL")
		}
		mime = strings.TrimSuffix(meta, ";base64")
		data = payload
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return &domain.Image{MIME: mime, Data: data}, nil
}

type taskBody struct {
	Title    string `json:"title"`
	Name     string `json:"name"`
	Text     string `json:"text"`
	Due      string `json:"due"`
	Deadline string `json:"deadline"`
	DueAt    string `json:"dueAt"`
}

var dueLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseDue(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dueLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// pending accepts items as plain strings or objects.
func (b body) pending(key string) ([]domain.PendingItem, error) {
	var raws []json.RawMessage
	if _, err := b.decode(key, &raws); err != nil {
		return nil, err
	}
	items := make([]domain.PendingItem, 0, len(raws))
	for _, raw := range raws {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			items = append(items, domain.PendingItem{Title: s})
			continue
		}
		var t taskBody
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		item := domain.PendingItem{Title: firstNonEmpty(t.Title, t.Name, t.Text)}
		item.Due = parseDue(firstNonEmpty(t.Due, t.Deadline, t.DueAt))
		items = append(items, item)
	}
	return items, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
