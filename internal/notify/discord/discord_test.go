package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fixaren/backoffice/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSession struct {
	sent []*discordgo.MessageSend
	errs []error
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.sent = append(m.sent, data)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func newTestSink(t *testing.T, sess *mockSession) *Sink {
	t.Helper()
	s, err := New(Opts{ChannelID: "998877", Session: sess})
	require.NoError(t, err)
	s.baseBackoff = time.Millisecond
	s.maxBackoff = 2 * time.Millisecond
	return s
}

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(Opts{ChannelID: "1"})
	assert.Error(t, err)
}

func TestNew_RequiresChannel(t *testing.T) {
	_, err := New(Opts{BotToken: "token"})
	assert.Error(t, err)
}

func TestPublish_SendsEmbed(t *testing.T) {
	sess := &mockSession{}
	s := newTestSink(t, sess)

	err := s.Publish(context.Background(), events.Event{
		Type:      events.TypeDealLost,
		DealTitle: "Laddbox",
		FromStage: "contacted",
		ToStage:   "lost",
	})
	require.NoError(t, err)
	require.Len(t, sess.sent, 1)
	require.Len(t, sess.sent[0].Embeds, 1)

	embed := sess.sent[0].Embeds[0]
	assert.Equal(t, "Deal lost: Laddbox", embed.Title)
	assert.Equal(t, 0xef4444, embed.Color)
	assert.Len(t, embed.Fields, 2)
}

func TestPublish_RetriesOn429(t *testing.T) {
	sess := &mockSession{errs: []error{
		&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}},
	}}
	s := newTestSink(t, sess)

	require.NoError(t, s.Publish(context.Background(), events.Event{Type: events.TypeDealWon}))
	assert.Len(t, sess.sent, 2)
}

func TestPublish_GivesUpAfterMaxRetries(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	sess := &mockSession{errs: []error{rateLimited, rateLimited, rateLimited, rateLimited, rateLimited}}
	s := newTestSink(t, sess)

	err := s.Publish(context.Background(), events.Event{Type: events.TypeDealWon})
	require.Error(t, err)
	assert.Len(t, sess.sent, maxRetries+1)
}

func TestPublish_OtherErrorNotRetried(t *testing.T) {
	sess := &mockSession{errs: []error{errors.New("missing access")}}
	s := newTestSink(t, sess)

	err := s.Publish(context.Background(), events.Event{Type: events.TypeDealWon})
	require.Error(t, err)
	assert.Len(t, sess.sent, 1)
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{
		"#22c55e": 0x22c55e,
		"EF4444":  0xef4444,
		"":        0,
		"#zz":     0,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseHexColor(in), in)
	}
}
