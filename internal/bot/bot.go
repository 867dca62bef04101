package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/repository"
	"unified-planner/internal/service"
	"unified-planner/internal/telemetry"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDate
	stageCategory
)

const (
	cbDonePrefix = "done:"
	cbSkipPrefix = "skip:"
)

type conversationState struct {
	stage conversationStage
	input service.ActivityInput
}

// messenger is the part of the Telegram API the bot sends through.
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the services the bot drives.
type Deps struct {
	Store      *repository.Store
	Activities *service.ActivityService
	Goals      *service.GoalService
	Categories *service.CategoryService
	Agenda     *service.AgendaService
	Reminders  *service.ReminderService
	Backups    *service.BackupService
	Integrity  *service.IntegrityService
	Templates  *service.TemplateService
	Search     *service.SearchService
}

// Bot aggregates Telegram API with services.
type Bot struct {
	client        *tgbotapi.BotAPI
	api           messenger
	deps          Deps
	allowedChat   int64
	log           *slog.Logger
	conversations map[int64]*conversationState
	mu            sync.Mutex
}

func New(token string, allowedChat int64, deps Deps, log *slog.Logger) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	b := newBot(client, deps, allowedChat, log)
	b.client = client
	b.log.Info("bot authorized", "account", client.Self.UserName)
	return b, nil
}

func newBot(api messenger, deps Deps, allowedChat int64, log *slog.Logger) *Bot {
	if log == nil {
		log = telemetry.Discard()
	}
	return &Bot{
		api:           api,
		deps:          deps,
		allowedChat:   allowedChat,
		log:           log.With("component", "bot"),
		conversations: make(map[int64]*conversationState),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.client == nil {
		return errors.New("bot has no telegram client")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.client.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.client.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Error("handle callback", "error", err)
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Error("handle message", "error", err)
		}
	}
}

// allowed reports whether chatID may use the bot. Zero allows every private chat.
func (b *Bot) allowed(chatID int64) bool {
	return b.allowedChat == 0 || chatID == b.allowedChat
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	if !b.allowed(msg.Chat.ID) {
		b.log.Warn("message from foreign chat", "chat_id", msg.Chat.ID)
		return b.sendPlain(msg.Chat.ID, "⛔ Этот планировщик принадлежит другому пользователю.")
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	}
	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}
	if msg.IsCommand() {
		b.log.Info("command", "user_id", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}
	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}
	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /newtask, чтобы добавить задачу, или /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(msg)
	case "help":
		return b.handleHelp(msg)
	case "agenda", "today":
		return b.handleAgenda(ctx, msg)
	case "week":
		return b.handleWeek(ctx, msg)
	case "done":
		return b.handleMark(ctx, msg, model.StatusDone)
	case "skip":
		return b.handleMark(ctx, msg, model.StatusSkipped)
	case "newtask":
		return b.startNewTaskConversation(msg)
	case "goals":
		return b.handleGoals(ctx, msg)
	case "categories":
		return b.handleCategories(ctx, msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "backup":
		return b.handleBackup(ctx, msg)
	case "check":
		return b.handleCheck(ctx, msg)
	case "stats":
		return b.handleStats(ctx, msg)
	case "search":
		return b.handleSearch(ctx, msg)
	case "templates":
		return b.handleTemplates(ctx, msg)
	case "usetemplate":
		return b.handleUseTemplate(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}
	text := fmt.Sprintf("👋 Привет, %s!\n<b>Я планировщик: задачи, события, привычки и цели в одном расписании.</b>\n\n%s",
		escape(name), commandList)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Подсказки</b>\n"+commandList)
}

const commandList = "• /agenda [дата] — план на день с кнопками отметки\n" +
	"• /week — план на неделю\n" +
	"• /newtask — добавить задачу пошагово\n" +
	"• /done &lt;id&gt; [дата] — отметить выполненным\n" +
	"• /skip &lt;id&gt; [дата] — отметить пропущенным\n" +
	"• /goals — цели и сроки\n" +
	"• /categories — категории\n" +
	"• /report — ежедневный отчёт\n" +
	"• /backup — снимок базы прямо сейчас\n" +
	"• /check — проверка целостности\n" +
	"• /stats — статистика хранилища\n" +
	"• /search &lt;текст&gt; — поиск по занятиям, целям и категориям\n" +
	"• /templates — шаблоны привычек\n" +
	"• /usetemplate &lt;имя&gt; — заменить привычки шаблоном с сегодняшнего дня\n" +
	"• /cancel — отменить текущий ввод"

func (b *Bot) handleAgenda(ctx context.Context, msg *tgbotapi.Message) error {
	d := b.deps.Agenda.Today()
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		parsed, err := calendar.ParseDate(arg)
		if err != nil {
			return b.sendText(msg.Chat.ID, "Не могу распознать дату. Используй формат <code>2025-11-30</code>.")
		}
		d = parsed
	}
	return b.sendDayAgenda(ctx, msg.Chat.ID, d)
}

func (b *Bot) sendDayAgenda(ctx context.Context, chatID int64, d calendar.Date) error {
	items, err := b.deps.Agenda.Day(ctx, d)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось получить план: %s", escape(err.Error())))
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📅 <b>План на %s</b>\n\n", d.In(time.UTC).Format("02.01.2006")))
	if len(items) == 0 {
		builder.WriteString("— ничего не запланировано")
		return b.sendText(chatID, builder.String())
	}

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, it := range items {
		builder.WriteString(service.FormatAgendaItem(it))
		if row := markButtons(it); row != nil {
			buttons = append(buttons, row)
		}
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	}
	_, err = b.api.Send(msg)
	return err
}

// markButtons offers done/skip for a pending activity occurrence.
func markButtons(it service.AgendaItem) []tgbotapi.InlineKeyboardButton {
	if it.ActivityID == "" || it.Status != model.StatusPending {
		return nil
	}
	key := it.ActivityID + ":" + it.Date.String()
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(it.Title, 20), cbDonePrefix+key),
		tgbotapi.NewInlineKeyboardButtonData("⏭", cbSkipPrefix+key),
	)
}

func (b *Bot) handleWeek(ctx context.Context, msg *tgbotapi.Message) error {
	today := b.deps.Agenda.Today()
	items, err := b.deps.Agenda.Week(ctx, today)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить план: %s", escape(err.Error())))
	}
	start := today.StartOfWeek()

	var builder strings.Builder
	builder.WriteString("🗓 <b>План на неделю</b>\n")
	for _, day := range service.GroupByDay(start, start.AddDays(6), items) {
		builder.WriteString(fmt.Sprintf("\n<b>%s %s</b>\n", weekdayNames[day.Date.Weekday()], day.Date.In(time.UTC).Format("02.01")))
		if len(day.Items) == 0 {
			builder.WriteString("—\n")
			continue
		}
		for _, it := range day.Items {
			builder.WriteString(service.FormatAgendaItem(it))
		}
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "Пн",
	time.Tuesday:   "Вт",
	time.Wednesday: "Ср",
	time.Thursday:  "Чт",
	time.Friday:    "Пт",
	time.Saturday:  "Сб",
	time.Sunday:    "Вс",
}

func (b *Bot) handleMark(ctx context.Context, msg *tgbotapi.Message, status model.CompletionStatus) error {
	ref, d, err := parseMarkArgs(msg.CommandArguments(), b.deps.Agenda.Today())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Укажи ID и, при желании, дату: /%s 1a2b3c4d 2025-11-30", msg.Command()))
	}
	a, err := b.deps.Activities.Resolve(ctx, ref)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	return b.mark(ctx, msg.Chat.ID, a, d, status)
}

func (b *Bot) mark(ctx context.Context, chatID int64, a *model.Activity, d calendar.Date, status model.CompletionStatus) error {
	var err error
	if status == model.StatusSkipped {
		_, err = b.deps.Activities.MarkSkipped(ctx, a.ID, d)
	} else {
		_, err = b.deps.Activities.MarkComplete(ctx, a.ID, d)
	}
	if err != nil {
		return b.replyError(chatID, err)
	}
	b.log.Info("occurrence marked", "activity_id", a.ID, "date", d.String(), "status", status)

	verb := "выполнено"
	if status == model.StatusSkipped {
		verb = "пропущено"
	}
	return b.sendText(chatID, fmt.Sprintf("✅ «%s» на %s: %s.", escape(a.Title), d.String(), verb))
}

// parseMarkArgs splits "<id> [YYYY-MM-DD]".
func parseMarkArgs(args string, today calendar.Date) (string, calendar.Date, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		return fields[0], today, nil
	case 2:
		d, err := calendar.ParseDate(fields[1])
		if err != nil {
			return "", calendar.Date{}, err
		}
		return fields[0], d, nil
	default:
		return "", calendar.Date{}, errors.New("expected an id and an optional date")
	}
}

func (b *Bot) handleGoals(ctx context.Context, msg *tgbotapi.Message) error {
	goals, err := b.deps.Goals.List(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить цели: %s", escape(err.Error())))
	}
	if len(goals) == 0 {
		return b.sendText(msg.Chat.ID, "Целей пока нет.")
	}
	today := b.deps.Agenda.Today()

	var builder strings.Builder
	builder.WriteString("🎯 <b>Цели</b>\n")
	for _, g := range goals {
		icon := iconDefault
		switch {
		case g.Completed:
			icon = "✅"
		case g.Overdue(today):
			icon = iconOverdue
		case g.DueDate != nil:
			icon = iconDue
		}
		builder.WriteString(fmt.Sprintf("%s %s", icon, escape(g.Title)))
		if g.DueDate != nil {
			builder.WriteString(fmt.Sprintf(" <i>до %s</i>", g.DueDate.String()))
		}
		builder.WriteByte('\n')
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleCategories(ctx context.Context, msg *tgbotapi.Message) error {
	categories, err := b.deps.Categories.List(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить категории: %s", escape(err.Error())))
	}
	if len(categories) == 0 {
		return b.sendText(msg.Chat.ID, "Категории пока пусты. Добавь их при создании задачи.")
	}
	var builder strings.Builder
	builder.WriteString("📂 <b>Категории</b>\n")
	for _, cat := range categories {
		builder.WriteString(fmt.Sprintf("• %s (%d)\n", escape(cat.Name), cat.Count))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	text, err := b.deps.Reminders.DailySummary(ctx, b.deps.Agenda.Today())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сформировать отчёт: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleBackup(ctx context.Context, msg *tgbotapi.Message) error {
	h, err := b.deps.Backups.Snapshot(ctx, service.KindBackup)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("❌ Снимок не создан: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("💾 Снимок создан: <code>%s</code>", escape(h.Name())))
}

func (b *Bot) handleCheck(ctx context.Context, msg *tgbotapi.Message) error {
	violations, err := b.deps.Integrity.Check(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Проверка не удалась: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, formatViolations(violations))
}

func formatViolations(violations []service.Violation) string {
	if len(violations) == 0 {
		return "✅ Нарушений целостности не найдено."
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("⚠️ <b>Найдено нарушений: %d</b>\n", len(violations)))
	for _, v := range violations {
		builder.WriteString(fmt.Sprintf("• <code>%s</code> %s: %s\n", v.Kind, escape(v.Subject), escape(v.Detail)))
	}
	builder.WriteString("\nИсправить можно командой <code>planner repair</code>.")
	return builder.String()
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) error {
	st, err := b.deps.Store.Stats(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить статистику: %s", escape(err.Error())))
	}
	text := fmt.Sprintf("📊 <b>Хранилище</b>\n• занятий: %d\n• целей: %d\n• отметок: %d\n• размер: %d КБ\n• поколение: %d",
		st.Activities, st.Goals, st.Completions, st.SizeBytes/1024, st.Generation)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleSearch(ctx context.Context, msg *tgbotapi.Message) error {
	hits, err := b.deps.Search.Search(ctx, msg.CommandArguments(), searchLimit)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	if len(hits) == 0 {
		return b.sendText(msg.Chat.ID, "🔍 Ничего не найдено.")
	}
	var builder strings.Builder
	builder.WriteString("🔍 <b>Найдено</b>\n")
	for _, h := range hits {
		builder.WriteString(fmt.Sprintf("• %s %s", kindIcon(h.Kind), escape(h.Title)))
		if h.ID != "" {
			builder.WriteString(fmt.Sprintf(" <code>%s</code>", service.ShortID(h.ID)))
		}
		if h.Detail != "" {
			builder.WriteString(fmt.Sprintf(" <i>%s</i>", escape(h.Detail)))
		}
		builder.WriteByte('\n')
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

const searchLimit = 20

func kindIcon(kind string) string {
	switch kind {
	case string(model.KindEvent):
		return "📅"
	case string(model.KindHabit):
		return "🔁"
	case "goal":
		return "🎯"
	case "category":
		return "📂"
	default:
		return "📝"
	}
}

func (b *Bot) handleTemplates(ctx context.Context, msg *tgbotapi.Message) error {
	list, err := b.deps.Templates.List(ctx)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	if len(list) == 0 {
		return b.sendText(msg.Chat.ID, "Шаблонов пока нет. Сохрани текущие привычки: <code>planner template save &lt;имя&gt;</code>.")
	}
	var builder strings.Builder
	builder.WriteString("🗂 <b>Шаблоны привычек</b>\n")
	for _, t := range list {
		builder.WriteString(fmt.Sprintf("• %s (%d)", escape(t.Name), len(t.Habits)))
		if t.Description != "" {
			builder.WriteString(" — " + escape(t.Description))
		}
		builder.WriteByte('\n')
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleUseTemplate(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Укажи имя шаблона: <code>/usetemplate утро</code>.")
	}
	res, err := b.deps.Templates.Apply(ctx, name, b.deps.Agenda.Today(), true)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Шаблон %s применён: новых привычек %d, завершено %d, удалено %d.",
		escape(name), len(res.Created), res.Ended, res.Removed))
}

func (b *Bot) startNewTaskConversation(msg *tgbotapi.Message) error {
	b.setConversation(msg.From.ID, &conversationState{
		stage: stageTitle,
		input: service.ActivityInput{Kind: model.KindTask, Priority: model.PriorityMedium},
	})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Создаём новую задачу.\n<b>Шаг 1:</b> как её назвать?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Название не может быть пустым.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "📆 На какой день? Формат <code>2025-11-30</code> (или «Пропустить»).", skipKeyboard())
	case stageDate:
		if !isSkipInput(text) {
			d, err := calendar.ParseDate(text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Не могу распознать дату. Используй формат <code>2025-11-30</code> или «Пропустить».", skipKeyboard())
			}
			state.input.Date = &d
		}
		state.stage = stageCategory
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Выбери категорию или отправь свою (можно «Пропустить»).", categoryKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		b.clearConversation(msg.From.ID)
		return b.finishTaskCreation(ctx, msg.Chat.ID, state.input)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Диалог сброшен. Попробуй ещё раз через /newtask.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, chatID int64, input service.ActivityInput) error {
	a, err := b.deps.Activities.Create(ctx, input)
	if err != nil {
		return b.replyError(chatID, err)
	}
	b.log.Info("task created", "activity_id", a.ID)

	var summary strings.Builder
	summary.WriteString("✅ <b>Задача сохранена</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> <code>%s</code>\n", service.ShortID(a.ID)))
	summary.WriteString(fmt.Sprintf("• <b>Название:</b> %s\n", escape(a.Title)))
	if a.Date != nil {
		summary.WriteString(fmt.Sprintf("• <b>Дата:</b> %s\n", a.Date.String()))
	}
	if a.Category != "" {
		summary.WriteString(fmt.Sprintf("• <b>Категория:</b> %s\n", escape(a.Category)))
	}
	return b.sendText(chatID, strings.TrimSpace(summary.String()))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", "error", err)
	}
	if !b.allowed(cb.Message.Chat.ID) {
		return nil
	}

	status := model.StatusDone
	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbDonePrefix):
		data = strings.TrimPrefix(data, cbDonePrefix)
	case strings.HasPrefix(data, cbSkipPrefix):
		data = strings.TrimPrefix(data, cbSkipPrefix)
		status = model.StatusSkipped
	default:
		return nil
	}
	id, d, err := parseCallbackKey(data)
	if err != nil {
		return nil
	}
	a, err := b.deps.Activities.Get(ctx, id)
	if err != nil {
		return b.replyError(cb.Message.Chat.ID, err)
	}
	return b.mark(ctx, cb.Message.Chat.ID, a, d, status)
}

// parseCallbackKey splits "<activity id>:<YYYY-MM-DD>".
func parseCallbackKey(data string) (string, calendar.Date, error) {
	i := strings.LastIndexByte(data, ':')
	if i <= 0 {
		return "", calendar.Date{}, fmt.Errorf("malformed callback %q", data)
	}
	d, err := calendar.ParseDate(data[i+1:])
	if err != nil {
		return "", calendar.Date{}, err
	}
	return data[:i], d, nil
}

// SendDailyReports sends today's summary to the configured chat.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	if b.allowedChat == 0 {
		return nil
	}
	text, err := b.deps.Reminders.DailySummary(ctx, b.deps.Agenda.Today())
	if err != nil {
		return fmt.Errorf("build summary: %w", err)
	}
	return b.sendText(b.allowedChat, text)
}

// ForwardNotifications relays background job notifications to the configured chat
// until ctx is cancelled.
func (b *Bot) ForwardNotifications(ctx context.Context, n *service.Notifier) {
	if b.allowedChat == 0 || n == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-n.C():
			if err := b.sendText(b.allowedChat, formatNotification(note)); err != nil {
				b.log.Error("forward notification", "error", err)
			}
		}
	}
}

func formatNotification(n service.Notification) string {
	icon := "ℹ️"
	if n.Level == service.LevelError {
		icon = "❗"
	}
	text := fmt.Sprintf("%s <b>%s</b>: %s", icon, escape(n.Source), escape(n.Message))
	if n.Err != nil {
		text += fmt.Sprintf("\n<code>%s</code>", escape(n.Err.Error()))
	}
	return text
}

func (b *Bot) replyError(chatID int64, err error) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return b.sendText(chatID, "Не найдено.")
	case errors.Is(err, apperr.ErrValidation):
		return b.sendText(chatID, fmt.Sprintf("⚠️ %s", escape(err.Error())))
	default:
		b.log.Error("request failed", "error", err)
		return b.sendText(chatID, fmt.Sprintf("Ошибка: %s", escape(err.Error())))
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelToday):
		return true, b.sendDayAgenda(ctx, msg.Chat.ID, b.deps.Agenda.Today())
	case strings.ToLower(menuLabelWeek):
		return true, b.handleWeek(ctx, msg)
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendPlain(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.conversations[userID]
	return ok && state.stage != stageNone
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
