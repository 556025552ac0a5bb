package flow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatting(pairs int) models.Session {
	s := models.Session{UserID: user, Flow: models.FlowAIChat, LastUpdated: now}
	for i := 0; i < pairs; i++ {
		s.AIHistory = append(s.AIHistory,
			models.HistoryEntry{Role: models.RoleUser, Text: fmt.Sprintf("q%d", i)},
			models.HistoryEntry{Role: models.RoleAssistant, Text: fmt.Sprintf("a%d", i)},
		)
	}
	return s
}

func TestAIChatRequestsCompletion(t *testing.T) {
	e := newEngine(t)
	tr := e.Handle(chatting(1), text("When is the next session?"), now)

	assert.Nil(t, tr.Action)
	require.Len(t, tr.Completion, 3)
	assert.Equal(t, models.RoleUser, tr.Completion[2].Role)
	assert.Equal(t, "When is the next session?", tr.Completion[2].Text)

	s, action := e.ResolveCompletion(tr, "Saturday at 9am.", nil, now)
	assert.Equal(t, models.FlowAIChat, s.Flow)
	require.Len(t, s.AIHistory, 4)
	assert.Equal(t, models.HistoryEntry{Role: models.RoleAssistant, Text: "Saturday at 9am.", At: now}, s.AIHistory[3])
	assert.Equal(t, models.TextAction(user, "Saturday at 9am."), action)
	require.NoError(t, s.Validate())
}

func TestAIChatEvictsOldestPairAtCap(t *testing.T) {
	e := newEngine(t, WithHistoryCap(6))
	s := chatting(3)
	require.Len(t, s.AIHistory, 6)

	tr := e.Handle(s, text("new question"), now)
	next, _ := e.ResolveCompletion(tr, "new answer", nil, now)

	require.Len(t, next.AIHistory, 6)
	assert.Equal(t, "q1", next.AIHistory[0].Text)
	assert.Equal(t, models.RoleUser, next.AIHistory[0].Role)
	assert.Equal(t, "a1", next.AIHistory[1].Text)
	assert.Equal(t, "new question", next.AIHistory[4].Text)
	assert.Equal(t, "new answer", next.AIHistory[5].Text)
	assert.Len(t, s.AIHistory, 6, "input session untouched")
	assert.Equal(t, "q0", s.AIHistory[0].Text)
}

func TestAIChatHistoryStaysWithinCap(t *testing.T) {
	for _, limit := range []int{2, 4, 10} {
		e := newEngine(t, WithHistoryCap(limit))
		s := chatting(0)
		for i := 0; i < 3*limit; i++ {
			tr := e.Handle(s, text(fmt.Sprintf("m%d", i)), now)
			require.LessOrEqual(t, len(tr.Completion), limit-1)
			s, _ = e.ResolveCompletion(tr, fmt.Sprintf("r%d", i), nil, now)
			require.LessOrEqual(t, len(s.AIHistory), limit)
			require.Zero(t, len(s.AIHistory)%2)
			for j := 0; j < len(s.AIHistory); j += 2 {
				require.Equal(t, models.RoleUser, s.AIHistory[j].Role)
				require.Equal(t, models.RoleAssistant, s.AIHistory[j+1].Role)
			}
		}
	}
}

func TestAIChatCompletionFailureFallsBack(t *testing.T) {
	e := newEngine(t)
	prior := chatting(2)
	tr := e.Handle(prior, text("hello?"), now)

	s, action := e.ResolveCompletion(tr, "", errors.New("timeout"), now)
	assert.Equal(t, DefaultTexts().AIFallback, action.Body)
	assert.Equal(t, prior.AIHistory, s.AIHistory)
	assert.Equal(t, models.FlowAIChat, s.Flow)
	assert.Equal(t, now, s.LastUpdated)

	s, action = e.ResolveCompletion(tr, "   ", nil, now)
	assert.Equal(t, DefaultTexts().AIFallback, action.Body)
	assert.Len(t, s.AIHistory, 4)
}

func TestAIChatExitKeywordReturnsToMenu(t *testing.T) {
	e := newEngine(t)
	for _, kw := range []string{"menu", " MENU ", "Salir", "/menu", "exit"} {
		tr := e.Handle(chatting(2), text(kw), now)
		assert.Equal(t, models.FlowNone, tr.Session.Flow, kw)
		assert.Empty(t, tr.Session.AIHistory, kw)
		require.NotNil(t, tr.Action)
		assert.Equal(t, e.MenuAction(user), *tr.Action)
		assert.Nil(t, tr.Completion)
	}
}

func TestAIChatCustomExitKeywords(t *testing.T) {
	e := newEngine(t, WithExitKeywords("bye"))
	tr := e.Handle(chatting(0), text("menu"), now)
	assert.NotNil(t, tr.Completion, "menu is an ordinary message once keywords are replaced")
	tr = e.Handle(chatting(0), text("Bye"), now)
	assert.Equal(t, models.FlowNone, tr.Session.Flow)
}

func TestAIChatNonTextIsNotForwarded(t *testing.T) {
	e := newEngine(t)
	tr := e.Handle(chatting(1), button(OptionRegister), now)
	assert.Nil(t, tr.Completion)
	assert.Equal(t, models.FlowAIChat, tr.Session.Flow)
	assert.Len(t, tr.Session.AIHistory, 2)
	require.NotNil(t, tr.Action)
	assert.Equal(t, DefaultTexts().TextOnly, tr.Action.Body)
}
