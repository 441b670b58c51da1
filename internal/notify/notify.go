// Package notify turns pipeline events into chat messages for the Slack
// and Discord sinks.
package notify

import (
	"fmt"

	"github.com/fixaren/backoffice/internal/events"
)

// Colors used for message sidebars.
const (
	ColorWon     = "#22c55e"
	ColorLost    = "#ef4444"
	ColorMoved   = "#60a5fa"
	ColorCreated = "#94a3b8"
	ColorUndone  = "#f59e0b"
)

// Message is a platform-neutral chat message.
type Message struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair rendered beside the message body.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Format renders an event for chat.
func Format(ev events.Event) Message {
	msg := Message{Body: ev.DealTitle}
	switch ev.Type {
	case events.TypeDealWon:
		msg.Title = fmt.Sprintf("Deal won: %s", ev.DealTitle)
		msg.Color = ColorWon
	case events.TypeDealLost:
		msg.Title = fmt.Sprintf("Deal lost: %s", ev.DealTitle)
		msg.Color = ColorLost
	case events.TypeDealCreated:
		msg.Title = fmt.Sprintf("New deal: %s", ev.DealTitle)
		msg.Color = ColorCreated
	case events.TypeActivityUndone:
		msg.Title = fmt.Sprintf("Move undone: %s", ev.DealTitle)
		msg.Color = ColorUndone
	default:
		msg.Title = fmt.Sprintf("Deal moved: %s", ev.DealTitle)
		msg.Color = ColorMoved
	}

	if ev.FromStage != "" {
		msg.Fields = append(msg.Fields, Field{Name: "From", Value: ev.FromStage, Short: true})
	}
	if ev.ToStage != "" {
		msg.Fields = append(msg.Fields, Field{Name: "To", Value: ev.ToStage, Short: true})
	}
	if ev.Value != "" {
		msg.Fields = append(msg.Fields, Field{Name: "Value", Value: ev.Value, Short: true})
	}
	if ev.TriggeredBy != "" {
		msg.Fields = append(msg.Fields, Field{Name: "Triggered by", Value: ev.TriggeredBy, Short: true})
	}
	return msg
}

// Text renders a message as plain fallback text.
func (m Message) Text() string {
	s := m.Title
	for _, f := range m.Fields {
		s += fmt.Sprintf(" | %s: %s", f.Name, f.Value)
	}
	return s
}
