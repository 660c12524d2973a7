package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrirag/internal/answer"
	"agrirag/internal/domain"
	"agrirag/internal/ingest"
)

type fakeBackend struct {
	questions []string
	ingested  []ingest.Request
	askErr    error
}

func (f *fakeBackend) Ask(_ context.Context, q string) (*answer.Result, error) {
	f.questions = append(f.questions, q)
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &answer.Result{
		Answer: "Onion trades at 1200 in Lasalgaon.",
		Sources: []domain.Hit{{
			Unit:  domain.Unit{Text: "Commodity: Onion, Market: Lasalgaon, Modal Price: 1200"},
			Score: 0.9,
		}},
	}, nil
}

func (f *fakeBackend) Ingest(_ context.Context, req ingest.Request) (int, error) {
	f.ingested = append(f.ingested, req)
	return 4, nil
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func typeLine(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	next, cmd := next.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestModel_AskRoundTrip(t *testing.T) {
	backend := &fakeBackend{}
	m := sized(t, New(backend, 0, true))

	m, cmd := typeLine(t, m, "onion price in Lasalgaon?")
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Empty(t, m.input.Value())

	msg := cmd()
	require.IsType(t, answerMsg{}, msg)
	assert.Equal(t, []string{"onion price in Lasalgaon?"}, backend.questions)

	next, _ := m.Update(msg)
	m = next.(Model)
	assert.False(t, m.busy)
	require.Len(t, m.transcript, 2)
	assert.Equal(t, roleAssistant, m.transcript[1].role)
	assert.Contains(t, m.View(), "Onion trades at 1200")
	assert.Contains(t, m.renderTranscript(), "[1] 0.900")
}

func TestModel_AskErrorIsShownInBand(t *testing.T) {
	backend := &fakeBackend{askErr: domain.Wrap(domain.ErrRetrieval, "query", errors.New("store offline"))}
	m := sized(t, New(backend, 0, false))

	m, cmd := typeLine(t, m, "tomato?")
	next, _ := m.Update(cmd())
	m = next.(Model)

	require.Len(t, m.transcript, 2)
	assert.Contains(t, m.transcript[1].text, "Error querying RAG: ")
	assert.Contains(t, m.transcript[1].text, "store offline")
}

func TestModel_UploadCommand(t *testing.T) {
	backend := &fakeBackend{}
	m := sized(t, New(backend, 0, false))

	m, cmd := typeLine(t, m, ":upload prices.xlsx")
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(Model)

	require.Equal(t, []ingest.Request{{Path: "prices.xlsx"}}, backend.ingested)
	assert.Empty(t, backend.questions)
	assert.Contains(t, m.transcript[len(m.transcript)-1].text, "4 rows added")
}

func TestModel_UploadWithoutPath(t *testing.T) {
	backend := &fakeBackend{}
	m := sized(t, New(backend, 0, false))

	m, cmd := typeLine(t, m, ":upload")
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
	assert.Contains(t, m.status, "Usage")
	assert.Empty(t, backend.ingested)
}

func TestModel_UploadUnsupportedFormat(t *testing.T) {
	backend := &fakeBackend{}
	m := sized(t, New(backend, 0, false))

	m, cmd := typeLine(t, m, ":upload notes.pdf")
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
	assert.Contains(t, m.status, "Unsupported file type: notes.pdf")
	assert.Empty(t, m.transcript)
	assert.Empty(t, backend.ingested)
}

func TestModel_EnterIgnoredWhileBusy(t *testing.T) {
	backend := &fakeBackend{}
	m := sized(t, New(backend, 0, false))

	m, first := typeLine(t, m, "first")
	require.NotNil(t, first)
	_, second := typeLine(t, m, "second")
	assert.Nil(t, second)
}

func TestModel_CtrlCQuits(t *testing.T) {
	m := New(&fakeBackend{}, 0, false)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_ViewBeforeSize(t *testing.T) {
	assert.Equal(t, "Loading...", New(&fakeBackend{}, 0, false).View())
}

func TestHighlightBestStatement(t *testing.T) {
	text := "Commodity: Onion, Market: Lasalgaon, Modal Price: 1200"
	got := highlightBestStatement(text, "what is the modal price")
	assert.Contains(t, got, "Commodity: Onion, Market: Lasalgaon, ")
	assert.Contains(t, got, "Modal Price: 1200")

	assert.Equal(t, text, highlightBestStatement(text, "???"))
	assert.Equal(t, "single statement", highlightBestStatement("single statement", "statement"))
}
