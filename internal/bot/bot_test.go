package bot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/repository"
	"unified-planner/internal/service"
)

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
}

func (f *fakeMessenger) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeMessenger) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeMessenger) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

const chatID = 42

type fixture struct {
	bot   *Bot
	api   *fakeMessenger
	store *repository.Store
	deps  Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	agenda := service.NewAgendaService(store, nil, nil, nil)
	goals := service.NewGoalService(store)
	deps := Deps{
		Store:      store,
		Activities: service.NewActivityService(store),
		Goals:      goals,
		Categories: service.NewCategoryService(store),
		Agenda:     agenda,
		Reminders:  service.NewReminderService(agenda, goals),
		Backups:    service.NewBackupService(store, filepath.Join(t.TempDir(), "backups"), service.RetentionPolicy{KeepLast: 3}, nil, nil, nil),
		Integrity:  service.NewIntegrityService(store, nil, nil, nil),
		Templates:  service.NewTemplateService(store),
		Search:     service.NewSearchService(store),
	}
	api := &fakeMessenger{}
	return &fixture{bot: newBot(api, deps, chatID, nil), api: api, store: store, deps: deps}
}

func command(chat int64, text string) tgbotapi.Update {
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chat, Type: "private"},
		From:     &tgbotapi.User{ID: 7, FirstName: "Ann"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func text(chat int64, body string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: body,
		Chat: &tgbotapi.Chat{ID: chat, Type: "private"},
		From: &tgbotapi.User{ID: 7},
	}}
}

func (f *fixture) task(t *testing.T, title, date string) *model.Activity {
	t.Helper()
	d := calendar.MustParseDate(date)
	a, err := f.deps.Activities.Create(context.Background(), service.ActivityInput{Kind: model.KindTask, Title: title, Date: &d})
	require.NoError(t, err)
	return a
}

func (f *fixture) statusOf(t *testing.T, id, date string) model.CompletionStatus {
	t.Helper()
	items, err := f.deps.Agenda.Day(context.Background(), calendar.MustParseDate(date))
	require.NoError(t, err)
	for _, it := range items {
		if it.ActivityID == id {
			return it.Status
		}
	}
	t.Fatalf("activity %s not on %s", id, date)
	return ""
}

func TestBot_DoneByShortID(t *testing.T) {
	f := newFixture(t)
	a := f.task(t, "pay rent", "2024-01-05")

	f.bot.handleUpdate(context.Background(), command(chatID, "/done "+service.ShortID(a.ID)+" 2024-01-05"))

	assert.Contains(t, f.api.last(t).Text, "выполнено")
	assert.Equal(t, model.StatusDone, f.statusOf(t, a.ID, "2024-01-05"))
}

func TestBot_RejectsForeignChat(t *testing.T) {
	f := newFixture(t)
	a := f.task(t, "pay rent", "2024-01-05")

	f.bot.handleUpdate(context.Background(), command(999, "/done "+a.ID+" 2024-01-05"))

	assert.Contains(t, f.api.last(t).Text, "⛔")
	assert.Equal(t, model.StatusPending, f.statusOf(t, a.ID, "2024-01-05"))
}

func TestBot_IgnoresGroupChats(t *testing.T) {
	f := newFixture(t)
	up := command(chatID, "/help")
	up.Message.Chat.Type = "group"
	f.bot.handleUpdate(context.Background(), up)
	assert.Empty(t, f.api.sent)
}

func TestBot_SkipCallback(t *testing.T) {
	f := newFixture(t)
	a := f.task(t, "gym", "2024-01-05")

	f.bot.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID, Type: "private"}},
		Data:    cbSkipPrefix + a.ID + ":2024-01-05",
	}})

	assert.Equal(t, 1, f.api.requests)
	assert.Contains(t, f.api.last(t).Text, "пропущено")
	assert.Equal(t, model.StatusSkipped, f.statusOf(t, a.ID, "2024-01-05"))
}

func TestBot_NewTaskConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.bot.handleUpdate(ctx, command(chatID, "/newtask"))
	f.bot.handleUpdate(ctx, text(chatID, "Купить хлеб"))
	f.bot.handleUpdate(ctx, text(chatID, "not a date"))
	assert.Contains(t, f.api.last(t).Text, "Не могу распознать дату")
	f.bot.handleUpdate(ctx, text(chatID, "2024-01-06"))
	f.bot.handleUpdate(ctx, text(chatID, "Покупки"))

	assert.Contains(t, f.api.last(t).Text, "Задача сохранена")
	all, err := f.deps.Activities.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Купить хлеб", all[0].Title)
	assert.Equal(t, "Покупки", all[0].Category)
	assert.Equal(t, calendar.MustParseDate("2024-01-06"), *all[0].Date)
	assert.False(t, f.bot.hasConversation(7))
}

func TestBot_CheckAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.task(t, "one", "2024-01-01")

	f.bot.handleUpdate(ctx, command(chatID, "/check"))
	assert.Contains(t, f.api.last(t).Text, "не найдено")

	f.bot.handleUpdate(ctx, command(chatID, "/stats"))
	assert.Contains(t, f.api.last(t).Text, "занятий: 1")

	f.bot.handleUpdate(ctx, command(chatID, "/backup"))
	assert.Contains(t, f.api.last(t).Text, "planner_backup_")
}

func TestBot_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.task(t, "Pay <rent>", "2024-01-05")

	f.bot.handleUpdate(ctx, command(chatID, "/search rent"))
	reply := f.api.last(t).Text
	assert.Contains(t, reply, "Pay &lt;rent&gt;")
	assert.Contains(t, reply, service.ShortID(a.ID))

	f.bot.handleUpdate(ctx, command(chatID, "/search zebra"))
	assert.Contains(t, f.api.last(t).Text, "Ничего не найдено")

	f.bot.handleUpdate(ctx, command(chatID, "/search x"))
	assert.Contains(t, f.api.last(t).Text, "⚠️")
}

func TestBot_TemplatesAndUseTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.bot.handleUpdate(ctx, command(chatID, "/templates"))
	assert.Contains(t, f.api.last(t).Text, "Шаблонов пока нет")

	_, err := f.deps.Templates.Save(ctx, "empty", "clean slate", false)
	require.NoError(t, err)

	f.bot.handleUpdate(ctx, command(chatID, "/templates"))
	assert.Contains(t, f.api.last(t).Text, "empty (0)")

	f.bot.handleUpdate(ctx, command(chatID, "/usetemplate empty"))
	assert.Contains(t, f.api.last(t).Text, "применён")

	f.bot.handleUpdate(ctx, command(chatID, "/usetemplate missing"))
	assert.Contains(t, f.api.last(t).Text, "Не найдено")
}

func TestParseMarkArgs(t *testing.T) {
	today := calendar.MustParseDate("2024-01-10")

	id, d, err := parseMarkArgs("abcd1234", today)
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", id)
	assert.Equal(t, today, d)

	_, d, err = parseMarkArgs(" abcd1234  2024-01-05 ", today)
	require.NoError(t, err)
	assert.Equal(t, calendar.MustParseDate("2024-01-05"), d)

	for _, bad := range []string{"", "a b c", "abcd 2024-13-01"} {
		_, _, err := parseMarkArgs(bad, today)
		assert.Error(t, err, bad)
	}
}

func TestParseCallbackKey(t *testing.T) {
	id, d, err := parseCallbackKey("0190a0b0-1111-7000-8000-00000000abcd:2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, "0190a0b0-1111-7000-8000-00000000abcd", id)
	assert.Equal(t, calendar.MustParseDate("2024-01-05"), d)

	_, _, err = parseCallbackKey("2024-01-05")
	assert.Error(t, err)
}

func TestFormatViolations(t *testing.T) {
	assert.Contains(t, formatViolations(nil), "не найдено")
	out := formatViolations([]service.Violation{{Kind: service.GoalCycle, Subject: "g1", Detail: "a <-> b"}})
	assert.Contains(t, out, "<code>goal_cycle</code> g1: a &lt;-&gt; b")
}

func TestShortTitle(t *testing.T) {
	assert.Equal(t, "короткий", shortTitle(" короткий ", 20))
	assert.Equal(t, "очень д…", shortTitle("очень длинный заголовок", 8))
}
