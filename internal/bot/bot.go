package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskdeck/internal/config"
	"taskdeck/internal/filter"
	"taskdeck/internal/model"
	"taskdeck/internal/repository"
	"taskdeck/internal/service"
	"taskdeck/internal/session"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stagePriority
	stageDueDate
	stageTags
)

const (
	cbTogglePrefix  = "toggle:"
	cbDeletePrefix  = "delete:"
	cbConfirmPrefix = "confirm:"
	cbCancelPrefix  = "cancel:"
	cbUndo          = "undo"
)

const (
	btnSkip         = "⏭️ Skip"
	btnConfirm      = "✅ Confirm"
	btnCancel       = "↩️ Cancel"
	btnCancelDialog = "⏪ Cancel input"
	iconDefault     = "🟢"
	iconDue         = "⏳"
	iconOverdue     = "⚠️"
	iconDone        = "✔️"
	menuLabelNew    = "➕ New task"
	menuLabelTasks  = "📋 Tasks"
	menuLabelDigest = "🗞 Digest"
	menuLabelHelp   = "ℹ️ Help"
)

type conversationState struct {
	stage conversationStage
	input model.TaskCreate
}

type confirmationRequest struct {
	taskID int64
}

// Bot is the Telegram surface over the task session: messages and
// callback buttons are the UI events, rendered lists are the view.
type Bot struct {
	api       *tgbotapi.BotAPI
	sess      *session.Session
	digestSvc *service.DigestService
	prefsRepo *repository.PrefsRepository
	config    *config.Config

	mu            sync.Mutex
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	prefs         map[int64]filter.Query
}

func New(token string, sess *session.Session, digestSvc *service.DigestService, prefsRepo *repository.PrefsRepository, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:           api,
		sess:          sess,
		digestSvc:     digestSvc,
		prefsRepo:     prefsRepo,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
		prefs:         make(map[int64]filter.Query),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.Chat.ID)
		b.clearConfirmation(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.Chat.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.Chat.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I didn't get that. Try /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "tasks":
		return b.sendTaskList(ctx, msg.Chat.ID)
	case "newtask":
		return b.startNewTaskConversation(msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "undo":
		return b.handleUndo(ctx, msg.Chat.ID)
	case "redo":
		return b.handleRedo(ctx, msg.Chat.ID)
	case "filter":
		return b.handleFilter(ctx, msg)
	case "search":
		return b.handleSearch(ctx, msg)
	case "priority":
		return b.handlePriority(ctx, msg)
	case "tag":
		return b.handleTag(ctx, msg)
	case "due":
		return b.handleDue(ctx, msg)
	case "sort":
		return b.handleSort(ctx, msg)
	case "clearfilters":
		return b.handleClearFilters(ctx, msg)
	case "refresh":
		return b.handleRefresh(ctx, msg.Chat.ID)
	case "digest":
		return b.sendText(msg.Chat.ID, b.digestSvc.DailySummary(time.Now()))
	case "status":
		return b.handleStatus(msg.Chat.ID)
	case "cancel":
		b.clearConversation(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	if err := b.sess.Refresh(ctx); err != nil {
		log.Printf("initial refresh: %v", err)
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I keep your task list at hand and in sync with your account.</b>\n\nCommands:\n"+
			"• /newtask — add a task\n"+
			"• /tasks — show the current view\n"+
			"• /done &lt;id&gt; — toggle completion\n"+
			"• /delete &lt;id&gt; — delete a task (undoable)\n"+
			"• /filter, /search, /sort — shape the view\n"+
			"• /help — all commands",
		escape(name),
	)
	return b.sendWithReplyMarkup(msg.Chat.ID, text, mainMenuKeyboard())
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /newtask — add a task step by step\n" +
		"• /tasks — show tasks with the active filters\n" +
		"• /done &lt;id&gt; — toggle a task's completion\n" +
		"• /delete &lt;id&gt; — delete a task, with an undo window\n" +
		"• /undo — bring back the last deleted task\n" +
		"• /redo — re-apply the last undone delete\n" +
		"• /filter all|pending|completed — status filter\n" +
		"• /search &lt;text&gt; — free-text search (empty to clear)\n" +
		"• /priority urgent|high|medium|low|off\n" +
		"• /tag &lt;tag&gt;|off — tag filter\n" +
		"• /due &lt;from&gt; [to]|off — due-date range (YYYY-MM-DD)\n" +
		"• /sort created_at|due_date|priority|title [asc|desc]|off\n" +
		"• /clearfilters — reset the view\n" +
		"• /refresh — refetch from the server\n" +
		"• /digest — today's summary\n" +
		"• /status — recent syncs and errors\n" +
		"• /cancel — cancel the current input"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) startNewTaskConversation(msg *tgbotapi.Message) error {
	b.setConversation(msg.Chat.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> what's the title?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.Chat.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title can't be empty. What's the title?", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Add a short description (or hit Skip).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stagePriority
		return b.sendWithReplyMarkup(msg.Chat.ID, "🎯 Pick a priority (or Skip for medium).", priorityKeyboard())
	case stagePriority:
		if !isSkipInput(text) {
			priority, ok := model.ParsePriority(text)
			if !ok {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Pick one of urgent, high, medium, low — or Skip.", priorityKeyboard())
			}
			state.input.Priority = priority
		}
		state.stage = stageDueDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ Due date in <code>2026-01-31</code> format (or Skip).", skipKeyboard())
	case stageDueDate:
		if !isSkipInput(text) {
			parsed, err := time.Parse("2006-01-02", text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "I can't read that date. Use <code>2026-01-31</code> or Skip.", skipKeyboard())
			}
			state.input.DueDate = &parsed
		}
		state.stage = stageTags
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Tags, comma separated (or Skip).", skipKeyboard())
	case stageTags:
		if !isSkipInput(text) {
			state.input.Tags = model.JoinTags(strings.Split(text, ","))
		}
		err := b.finishTaskCreation(ctx, msg.Chat.ID, state.input)
		b.clearConversation(msg.Chat.ID)
		return err
	default:
		b.clearConversation(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "Dialog reset. Try again with /newtask.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, chatID int64, input model.TaskCreate) error {
	task, err := b.sess.Create(ctx, input)
	if err != nil {
		if errors.Is(err, session.ErrEmptyTitle) {
			return b.sendTextWithRemove(chatID, "The title can't be empty. Try /newtask again.")
		}
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Couldn't save the task: %s", escape(errText(err))))
	}

	log.Printf("[info] task created id=%d", task.ID)

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", task.ID))
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(task.Title)))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Description:</b> %s\n", escape(task.Description)))
	}
	summary.WriteString(fmt.Sprintf("• <b>Priority:</b> %s\n", task.Priority))
	if task.DueDate != nil {
		summary.WriteString(fmt.Sprintf("• <b>Due:</b> %s\n", task.DueDate.Format("2006-01-02")))
	}
	if tags := task.TagList(); len(tags) > 0 {
		summary.WriteString(fmt.Sprintf("• <b>Tags:</b> %s\n", escape(strings.Join(tags, ", "))))
	}

	reply := tgbotapi.NewMessage(chatID, strings.TrimSpace(summary.String()))
	reply.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	reply.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(reply); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID)
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseIDArg(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give me a task id: /done 12")
	}
	return b.toggleTaskAndRefresh(ctx, msg.Chat.ID, taskID)
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseIDArg(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Give me a task id: /delete 12")
	}
	return b.askDeleteConfirmation(msg.Chat.ID, taskID)
}

func (b *Bot) handleUndo(ctx context.Context, chatID int64) error {
	task, ok := b.sess.Undo()
	if !ok {
		return b.sendText(chatID, "Nothing to undo.")
	}
	log.Printf("[info] undo restored task id=%d", task.ID)
	if err := b.sendText(chatID, fmt.Sprintf("↩️ Task \"%s\" restored.", escape(task.Title))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID)
}

func (b *Bot) handleRedo(ctx context.Context, chatID int64) error {
	task, ok, err := b.sess.Redo(ctx)
	if !ok {
		return b.sendText(chatID, "Nothing to redo.")
	}
	if err != nil {
		log.Printf("redo: %v", err)
		return b.sendText(chatID, fmt.Sprintf("Couldn't delete \"%s\" again: %s", escape(task.Title), escape(errText(err))))
	}
	if err := b.sendText(chatID, fmt.Sprintf("🗑 Task \"%s\" deleted again.", escape(task.Title))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID)
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64) error {
	if err := b.sess.Refresh(ctx); err != nil {
		log.Printf("refresh: %v", err)
		return b.sendText(chatID, fmt.Sprintf("Couldn't load tasks: %s", escape(errText(err))))
	}
	return b.sendTaskList(ctx, chatID)
}

func (b *Bot) handleStatus(chatID int64) error {
	var builder strings.Builder
	builder.WriteString("🩺 <b>Session status</b>\n")
	if banner := b.sess.LastError(); banner != "" {
		builder.WriteString(fmt.Sprintf("🚨 %s (dismissed)\n", escape(banner)))
		b.sess.ClearError()
	} else {
		builder.WriteString("No errors.\n")
	}

	if b.config != nil {
		builder.WriteString(fmt.Sprintf("🔄 Background refresh every %s · digest at %s\n", b.config.RefreshInterval, b.config.DigestTime))
	}

	recent := b.sess.Recent()
	if len(recent) == 0 {
		builder.WriteString("\nNo mutations yet.")
	} else {
		builder.WriteString("\n<b>Recent mutations</b>\n")
		limit := len(recent)
		if limit > 5 {
			limit = 5
		}
		for _, m := range recent[:limit] {
			line := fmt.Sprintf("• %s #%d — %s", m.Op, m.TaskID, m.State)
			if m.Err != "" {
				line += fmt.Sprintf(" (%s)", escape(m.Err))
			}
			builder.WriteString(line + "\n")
		}
	}
	return b.sendText(chatID, strings.TrimSpace(builder.String()))
}

// ---- view preference commands ----

func (b *Bot) handleFilter(ctx context.Context, msg *tgbotapi.Message) error {
	arg := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	var status filter.Status
	switch arg {
	case "all", "":
		status = filter.StatusAll
	case "pending":
		status = filter.StatusPending
	case "completed", "done":
		status = filter.StatusCompleted
	default:
		return b.sendText(msg.Chat.ID, "Use /filter all, /filter pending or /filter completed.")
	}

	q := b.loadPrefs(ctx, msg.Chat.ID)
	q.Status = status
	b.storePrefs(ctx, msg.Chat.ID, q)
	return b.sendTaskList(ctx, msg.Chat.ID)
}

func (b *Bot) handleSearch(ctx context.Context, msg *tgbotapi.Message) error {
	q := b.loadPrefs(ctx, msg.Chat.ID)
	q.Search = strings.TrimSpace(msg.CommandArguments())
	b.storePrefs(ctx, msg.Chat.ID, q)
	if q.Search == "" {
		if err := b.sendText(msg.Chat.ID, "Search cleared."); err != nil {
			return err
		}
	}
	return b.sendTaskList(ctx, msg.Chat.ID)
}

func (b *Bot) handlePriority(ctx context.Context, msg *tgbotapi.Message) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	q := b.loadPrefs(ctx, msg.Chat.ID)
	if isOffInput(arg) {
		q.Priority = ""
	} else {
		priority, ok := model.ParsePriority(arg)
		if !ok {
			return b.sendText(msg.Chat.ID, "Use /priority urgent|high|medium|low, or /priority off.")
		}
		q.Priority = priority
	}
	b.storePrefs(ctx, msg.Chat.ID, q)
	return b.sendTaskList(ctx, msg.Chat.ID)
}

func (b *Bot) handleTag(ctx context.Context, msg *tgbotapi.Message) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	q := b.loadPrefs(ctx, msg.Chat.ID)
	if arg == "" || isOffInput(arg) {
		q.Tag = ""
	} else {
		q.Tag = arg
	}
	b.storePrefs(ctx, msg.Chat.ID, q)
	return b.sendTaskList(ctx, msg.Chat.ID)
}

func (b *Bot) handleDue(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	q := b.loadPrefs(ctx, msg.Chat.ID)

	switch {
	case len(args) == 1 && isOffInput(args[0]):
		q.DueFrom = nil
		q.DueTo = nil
	case len(args) == 1 || len(args) == 2:
		from, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			return b.sendText(msg.Chat.ID, "Dates look like <code>2026-01-31</code>: /due 2026-01-01 2026-01-31")
		}
		q.DueFrom = &from
		q.DueTo = nil
		if len(args) == 2 {
			to, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return b.sendText(msg.Chat.ID, "Dates look like <code>2026-01-31</code>: /due 2026-01-01 2026-01-31")
			}
			q.DueTo = &to
		}
	default:
		return b.sendText(msg.Chat.ID, "Use /due &lt;from&gt; [to], or /due off.")
	}

	b.storePrefs(ctx, msg.Chat.ID, q)
	return b.sendTaskList(ctx, msg.Chat.ID)
}

func (b *Bot) handleSort(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(strings.ToLower(msg.CommandArguments()))
	q := b.loadPrefs(ctx, msg.Chat.ID)

	if len(args) == 1 && isOffInput(args[0]) {
		q.SortBy = ""
		q.Order = ""
		b.storePrefs(ctx, msg.Chat.ID, q)
		return b.sendTaskList(ctx, msg.Chat.ID)
	}
	if len(args) == 0 || len(args) > 2 {
		return b.sendText(msg.Chat.ID, "Use /sort created_at|due_date|priority|title [asc|desc], or /sort off.")
	}

	switch filter.SortField(args[0]) {
	case filter.SortCreatedAt, filter.SortDueDate, filter.SortPriority, filter.SortTitle:
		q.SortBy = filter.SortField(args[0])
	default:
		return b.sendText(msg.Chat.ID, "Sortable fields: created_at, due_date, priority, title.")
	}

	q.Order = filter.OrderAsc
	if len(args) == 2 {
		switch filter.Order(args[1]) {
		case filter.OrderAsc, filter.OrderDesc:
			q.Order = filter.Order(args[1])
		default:
			return b.sendText(msg.Chat.ID, "Direction is asc or desc.")
		}
	}

	b.storePrefs(ctx, msg.Chat.ID, q)
	return b.sendTaskList(ctx, msg.Chat.ID)
}

func (b *Bot) handleClearFilters(ctx context.Context, msg *tgbotapi.Message) error {
	b.mu.Lock()
	b.prefs[msg.Chat.ID] = filter.Query{Status: filter.StatusAll}
	b.mu.Unlock()
	if b.prefsRepo != nil {
		if err := b.prefsRepo.DeleteByChatID(ctx, msg.Chat.ID); err != nil {
			log.Printf("clear prefs: %v", err)
		}
	}
	if err := b.sendText(msg.Chat.ID, "Filters reset."); err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID)
}

// ---- confirmation + callbacks ----

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.Chat.ID)
		return b.deleteTaskAndRefresh(ctx, msg.Chat.ID, req.taskID)
	case isCancelInput(text):
		b.clearConfirmation(msg.Chat.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Confirm or cancel the deletion.", confirmKeyboard())
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	chatID := cb.Message.Chat.ID
	data := cb.Data

	switch {
	case strings.HasPrefix(data, cbTogglePrefix):
		taskID, err := parseTaskID(data, cbTogglePrefix)
		if err != nil {
			return nil
		}
		return b.toggleTaskAndRefresh(ctx, chatID, taskID)
	case strings.HasPrefix(data, cbDeletePrefix):
		taskID, err := parseTaskID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		return b.askDeleteConfirmation(chatID, taskID)
	case strings.HasPrefix(data, cbConfirmPrefix):
		taskID, err := parseTaskID(data, cbConfirmPrefix)
		if err != nil {
			return nil
		}
		b.clearConfirmation(chatID)
		return b.deleteTaskAndRefresh(ctx, chatID, taskID)
	case strings.HasPrefix(data, cbCancelPrefix):
		b.clearConfirmation(chatID)
		return nil
	case data == cbUndo:
		return b.handleUndo(ctx, chatID)
	default:
		return nil
	}
}

func (b *Bot) askDeleteConfirmation(chatID int64, taskID int64) error {
	task, ok := b.sess.Store().FindByID(taskID)
	if !ok {
		return b.sendText(chatID, "Task not found.")
	}

	text := fmt.Sprintf("Delete task \"%s\" (#%d)?", escape(task.Title), task.ID)
	b.setConfirmation(chatID, confirmationRequest{taskID: task.ID})

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnConfirm, fmt.Sprintf("%s%d", cbConfirmPrefix, task.ID)),
			tgbotapi.NewInlineKeyboardButtonData(btnCancel, fmt.Sprintf("%s%d", cbCancelPrefix, task.ID)),
		),
	)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) toggleTaskAndRefresh(ctx context.Context, chatID int64, taskID int64) error {
	task, ok := b.sess.Store().FindByID(taskID)
	if !ok {
		return b.sendText(chatID, "Task not found or already deleted.")
	}

	if err := b.sess.Toggle(ctx, taskID, !task.Completed); err != nil {
		log.Printf("toggle: %v", err)
		return b.sendText(chatID, fmt.Sprintf("Couldn't update \"%s\": %s", escape(task.Title), escape(errText(err))))
	}

	log.Printf("[info] task toggled id=%d completed=%t", taskID, !task.Completed)
	var info string
	if task.Completed {
		info = fmt.Sprintf("⏳ Task \"%s\" marked as pending.", escape(task.Title))
	} else {
		info = fmt.Sprintf("✅ Task \"%s\" marked as completed.", escape(task.Title))
	}
	if err := b.sendText(chatID, info); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID)
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, chatID int64, taskID int64) error {
	task, ok := b.sess.Store().FindByID(taskID)
	if !ok {
		return b.sendText(chatID, "Task not found or already deleted.")
	}

	if err := b.sess.Delete(ctx, taskID); err != nil {
		log.Printf("delete: %v", err)
		return b.sendText(chatID, fmt.Sprintf("Couldn't delete \"%s\": %s", escape(task.Title), escape(errText(err))))
	}

	log.Printf("[info] task deleted id=%d", taskID)

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("🗑 Task \"%s\" deleted.", escape(task.Title)))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("↩️ Undo", cbUndo),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID)
}

// ---- rendering ----

func (b *Bot) sendTaskList(ctx context.Context, chatID int64) error {
	q := b.loadPrefs(ctx, chatID)
	counts := b.sess.Store().Counts()
	visible := filter.Visible(b.sess.Store().Snapshot(), q)

	var builder strings.Builder
	builder.WriteString("📋 <b>Tasks</b>\n")
	builder.WriteString(fmt.Sprintf("All %d · Pending %d · Completed %d\n", counts.All, counts.Pending, counts.Completed))
	if line := describeQuery(q); line != "" {
		builder.WriteString(fmt.Sprintf("🔍 %s\n", line))
	}
	if banner := b.sess.LastError(); banner != "" {
		builder.WriteString(fmt.Sprintf("🚨 %s (dismiss with /status)\n", escape(banner)))
	}
	builder.WriteByte('\n')

	if len(visible) == 0 {
		switch {
		case q.Search != "":
			builder.WriteString("No tasks match your search.")
		case q.Status == filter.StatusCompleted:
			builder.WriteString("No completed tasks yet.")
		case q.Status == filter.StatusPending:
			builder.WriteString("No pending tasks. Great job!")
		default:
			builder.WriteString("No tasks yet. Create one with /newtask.")
		}
		return b.sendText(chatID, builder.String())
	}

	now := time.Now()
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range visible {
		builder.WriteString(formatTask(task, now))
		toggleLabel := fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 20))
		if task.Completed {
			toggleLabel = fmt.Sprintf("⏳ #%d · %s", task.ID, shortTitle(task.Title, 20))
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggleLabel, fmt.Sprintf("%s%d", cbTogglePrefix, task.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("%s%d", cbDeletePrefix, task.ID)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func formatTask(task model.Task, now time.Time) string {
	var b strings.Builder

	icon := iconDefault
	switch {
	case task.Completed:
		icon = iconDone
	case task.DueDate != nil && now.After(task.DueDate.In(now.Location())):
		icon = iconOverdue
	case task.DueDate != nil && task.DueDate.In(now.Location()).Sub(now) <= 48*time.Hour:
		icon = iconDue
	}

	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s", icon, task.ID, escape(task.Title)))
	if task.Priority != "" {
		b.WriteString(fmt.Sprintf(" <i>(%s)</i>", task.Priority))
	}
	b.WriteByte('\n')

	if task.DueDate != nil {
		due := task.DueDate.In(now.Location())
		if !task.Completed && now.After(due) {
			b.WriteString(fmt.Sprintf("   ⏰ Due: %s — <b>overdue</b>\n", due.Format("2006-01-02")))
		} else {
			b.WriteString(fmt.Sprintf("   ⏰ Due: %s\n", due.Format("2006-01-02")))
		}
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	if tags := task.TagList(); len(tags) > 0 {
		b.WriteString(fmt.Sprintf("   🏷 %s\n", escape(strings.Join(tags, ", "))))
	}
	b.WriteByte('\n')
	return b.String()
}

func describeQuery(q filter.Query) string {
	var parts []string
	if q.Status != "" && q.Status != filter.StatusAll {
		parts = append(parts, string(q.Status))
	}
	if q.Search != "" {
		parts = append(parts, fmt.Sprintf("search %q", q.Search))
	}
	if q.Priority != "" {
		parts = append(parts, "priority "+string(q.Priority))
	}
	if q.Tag != "" {
		parts = append(parts, "tag "+q.Tag)
	}
	switch {
	case q.DueFrom != nil && q.DueTo != nil:
		parts = append(parts, fmt.Sprintf("due %s..%s", q.DueFrom.Format("2006-01-02"), q.DueTo.Format("2006-01-02")))
	case q.DueFrom != nil:
		parts = append(parts, "due from "+q.DueFrom.Format("2006-01-02"))
	case q.DueTo != nil:
		parts = append(parts, "due to "+q.DueTo.Format("2006-01-02"))
	}
	if q.SortBy != "" {
		order := q.Order
		if order == "" {
			order = filter.OrderAsc
		}
		parts = append(parts, fmt.Sprintf("sort %s %s", q.SortBy, order))
	}
	return escape(strings.Join(parts, " · "))
}

// ---- background jobs ----

// SendDailyDigests pushes the digest to every chat with saved
// preferences.
func (b *Bot) SendDailyDigests(ctx context.Context) error {
	if b.prefsRepo == nil {
		return nil
	}
	chatIDs, err := b.prefsRepo.ListChatIDs(ctx)
	if err != nil {
		return err
	}
	text := b.digestSvc.DailySummary(time.Now())
	for _, chatID := range chatIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.sendText(chatID, text); err != nil {
			log.Printf("send digest to %d: %v", chatID, err)
		}
	}
	return nil
}

// ---- prefs state ----

func (b *Bot) loadPrefs(ctx context.Context, chatID int64) filter.Query {
	b.mu.Lock()
	q, ok := b.prefs[chatID]
	b.mu.Unlock()
	if ok {
		return q
	}

	q = filter.Query{Status: filter.StatusAll}
	if b.prefsRepo != nil {
		saved, err := b.prefsRepo.FindByChatID(ctx, chatID)
		if err != nil {
			log.Printf("load prefs: %v", err)
		} else if saved != nil {
			q = prefsToQuery(saved)
		}
	}

	b.mu.Lock()
	b.prefs[chatID] = q
	b.mu.Unlock()
	return q
}

func (b *Bot) storePrefs(ctx context.Context, chatID int64, q filter.Query) {
	b.mu.Lock()
	b.prefs[chatID] = q
	b.mu.Unlock()

	if b.prefsRepo == nil {
		return
	}
	if err := b.prefsRepo.Save(ctx, queryToPrefs(chatID, q)); err != nil {
		log.Printf("save prefs: %v", err)
	}
}

func prefsToQuery(p *model.ChatPrefs) filter.Query {
	q := filter.Query{
		Status:  filter.Status(p.Status),
		Search:  p.Search,
		Tag:     p.Tag,
		DueFrom: p.DueFrom,
		DueTo:   p.DueTo,
		SortBy:  filter.SortField(p.SortBy),
		Order:   filter.Order(p.SortOrder),
	}
	if q.Status == "" {
		q.Status = filter.StatusAll
	}
	if priority, ok := model.ParsePriority(p.Priority); ok {
		q.Priority = priority
	}
	return q
}

func queryToPrefs(chatID int64, q filter.Query) *model.ChatPrefs {
	return &model.ChatPrefs{
		ChatID:    chatID,
		Status:    string(q.Status),
		Search:    q.Search,
		Priority:  string(q.Priority),
		Tag:       q.Tag,
		DueFrom:   q.DueFrom,
		DueTo:     q.DueTo,
		SortBy:    string(q.SortBy),
		SortOrder: string(q.Order),
	}
}

// ---- conversation/confirmation state ----

func (b *Bot) getConfirmation(chatID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[chatID]
	return req, ok
}

func (b *Bot) setConfirmation(chatID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[chatID] = req
}

func (b *Bot) clearConfirmation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, chatID)
}

func (b *Bot) setConversation(chatID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[chatID] = state
}

func (b *Bot) getConversation(chatID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[chatID]
}

func (b *Bot) hasConversation(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[chatID]
	return ok
}

func (b *Bot) clearConversation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, chatID)
}

// ---- sending helpers ----

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Main menu")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNew):
		return true, b.startNewTaskConversation(msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.sendTaskList(ctx, msg.Chat.ID)
	case strings.ToLower(menuLabelDigest):
		return true, b.sendText(msg.Chat.ID, b.digestSvc.DailySummary(time.Now()))
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

// ---- keyboards ----

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNew),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelDigest),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func priorityKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("urgent"),
			tgbotapi.NewKeyboardButton("high"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("medium"),
			tgbotapi.NewKeyboardButton("low"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// ---- small parsing helpers ----

func parseTaskID(data, prefix string) (int64, error) {
	raw := strings.TrimPrefix(data, prefix)
	return strconv.ParseInt(raw, 10, 64)
}

func parseIDArg(args string) (int64, error) {
	raw := strings.TrimSpace(args)
	if raw == "" {
		return 0, fmt.Errorf("missing id")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isOffInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "off" || value == "none" || value == "clear"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel" || value == "no"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "cancel input"
}

func escape(s string) string {
	return html.EscapeString(s)
}

// errText unwraps to the innermost cause for user-facing messages.
func errText(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}
