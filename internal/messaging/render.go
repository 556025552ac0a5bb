package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// ReplyHint closes every numbered menu.
const ReplyHint = "Reply with the number of your choice."

// option is one numbered choice offered in a text rendering.
type option struct {
	id    string
	title string
	kind  models.MessageKind
}

// RenderButtons renders buttons as a numbered text menu.
func RenderButtons(body string, buttons []models.Button) string {
	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\n\n")
	for i, b := range buttons {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, b.Title)
	}
	sb.WriteString("\n")
	sb.WriteString(ReplyHint)
	return sb.String()
}

// RenderList renders list sections as a numbered text menu, numbering rows across sections.
func RenderList(body string, sections []models.ListSection) string {
	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\n")
	n := 0
	for _, sec := range sections {
		sb.WriteString("\n")
		if sec.Title != "" {
			sb.WriteString("*" + sec.Title + "*\n")
		}
		for _, row := range sec.Rows {
			n++
			fmt.Fprintf(&sb, "%d. %s", n, row.Title)
			if row.Description != "" {
				sb.WriteString(" - " + row.Description)
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(ReplyHint)
	return sb.String()
}

// DefaultMenuIdle is how long an unanswered numbered menu is remembered.
const DefaultMenuIdle = 24 * time.Hour

// offer is a numbered menu sent to one user.
type offer struct {
	opts []option
	at   time.Time
}

// optionBook remembers the last numbered menu sent to each user. A menu is
// valid until the next outbound message or inbound reply for that user, or
// until it has been idle for longer than idle.
//
// Menus live in process memory and are lost on restart. A numbered reply with
// no remembered menu reaches the flow as plain text, which answers it with the
// current step's prompt or menu again.
type optionBook struct {
	mu      sync.Mutex
	offered map[string]offer
	idle    time.Duration
	swept   time.Time
	now     func() time.Time
}

func newOptionBook() *optionBook {
	return &optionBook{offered: make(map[string]offer), idle: DefaultMenuIdle, now: time.Now}
}

func buttonOptions(buttons []models.Button) []option {
	opts := make([]option, 0, len(buttons))
	for _, btn := range buttons {
		opts = append(opts, option{id: btn.ID, title: btn.Title, kind: models.KindButtonReply})
	}
	return opts
}

func (b *optionBook) setIdle(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d > 0 {
		b.idle = d
	}
}

func (b *optionBook) offerButtons(user string, buttons []models.Button) {
	b.set(user, buttonOptions(buttons))
}

func (b *optionBook) offerList(user string, sections []models.ListSection) {
	var opts []option
	for _, sec := range sections {
		for _, row := range sec.Rows {
			opts = append(opts, option{id: row.ID, title: row.Title, kind: models.KindListReply})
		}
	}
	b.set(user, opts)
}

func (b *optionBook) set(user string, opts []option) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.offered[user] = offer{opts: opts, at: now}
	if now.Sub(b.swept) >= b.idle/4 {
		b.evictLocked(now)
	}
}

// evictLocked drops menus idle for longer than b.idle.
func (b *optionBook) evictLocked(now time.Time) {
	for user, o := range b.offered {
		if now.Sub(o.at) > b.idle {
			delete(b.offered, user)
		}
	}
	b.swept = now
}

func (b *optionBook) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.offered)
}

func (b *optionBook) forget(user string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.offered, user)
}

// resolve turns a text reply into a selection when it names an offered option
// by number or by title. The user's menu is consumed either way.
func (b *optionBook) resolve(msg models.InboundMessage) models.InboundMessage {
	if msg.Kind != models.KindText {
		return msg
	}
	b.mu.Lock()
	o, ok := b.offered[msg.UserID]
	delete(b.offered, msg.UserID)
	stale := b.now().Sub(o.at) > b.idle
	b.mu.Unlock()
	if !ok || stale {
		return msg
	}
	opts := o.opts

	text := strings.TrimSpace(msg.Text)
	if n, err := strconv.Atoi(strings.TrimSuffix(text, ".")); err == nil && n >= 1 && n <= len(opts) {
		return selection(msg, opts[n-1])
	}
	for _, opt := range opts {
		if strings.EqualFold(text, opt.title) {
			return selection(msg, opt)
		}
	}
	return msg
}

func selection(msg models.InboundMessage, o option) models.InboundMessage {
	msg.Kind = o.kind
	msg.SelectionID = o.id
	msg.SelectionTitle = o.title
	msg.Text = ""
	return msg
}
