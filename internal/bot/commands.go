package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/models"
)

const (
	teacherHelp = `Available commands:
/token - Get an API token for the points server
/points - Class points standings for this chat's classroom
/ranking <session_id> - Peer evaluation standings for a session
/report <session_id> - Per-student session sheet (QR points + peer score)
/help - Show this message`

	adminHelp = `Available commands:
/token - Get an API token for the points server
/register <class_id> [comment] - Bind this chat to a classroom
/chats - List chats bound to classrooms
/points - Class points standings for this chat's classroom
/ranking <session_id> - Peer evaluation standings for a session
/report <session_id> - Per-student session sheet (QR points + peer score)
/help - Show this message

Examples:
/register 3 second-year seminar
/ranking 17`
)

type commandHandler func(*tgbotapi.Message) error

func (b *Bot) routeTeacherCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start":   b.handleStart,
		"token":   b.handleToken,
		"points":  b.handlePoints,
		"ranking": b.handleRanking,
		"report":  b.handleReport,
		"help":    b.handleHelp,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"register": b.handleRegister,
		"chats":    b.handleChats,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.sendHelp(msg.Chat.ID)
		return
	}

	cmd := msg.Command()

	if handler, ok := b.routeTeacherCommands(cmd); ok {
		if err := handler(msg); err != nil {
			logger.Error.Printf("Command error: %v", err)
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
		}
		return
	}

	if b.admins[msg.From.ID] {
		if handler, ok := b.routeAdminCommands(cmd); ok {
			if err := handler(msg); err != nil {
				logger.Error.Printf("Command error: %v", err)
				b.sendMessage(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
			}
		}
		return
	}

	b.sendHelp(msg.Chat.ID)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	var text string
	if b.admins[msg.From.ID] {
		text = adminHelp
	} else {
		text = teacherHelp
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) sendHelp(chatID int64) error {
	return b.sendMessage(chatID, "Send /help for the list of commands.")
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	text := "Hi! I report classroom points and peer evaluation standings.\n\n"
	if b.admins[msg.From.ID] {
		text += "You are an admin. Use /register to bind this chat to a classroom."
	} else {
		text += "Use /token to get an API token, /points for standings."
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) handleToken(msg *tgbotapi.Message) error {
	info, isNew, err := b.tokens.FetchOrCreateTeacherToken(context.Background(), msg.From.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch token: %w", err)
	}

	label := "Your API token"
	if isNew {
		label = "Created a new API token"
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf(
		"%s:\n`%s`\nRequests so far: %d",
		label, info.Token, info.RequestCount,
	))
}

func (b *Bot) handleRegister(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return b.sendMessage(msg.Chat.ID, "Usage: /register <class_id> [comment]")
	}

	classroomID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid class id: %v", err)
	}

	classroom, err := b.store.GetClassroom(classroomID)
	if err != nil {
		return fmt.Errorf("failed to look up classroom: %v", err)
	}
	if classroom == nil {
		return fmt.Errorf("classroom %d does not exist", classroomID)
	}

	mapping := &models.ChatClassMapping{
		ClassroomID:     classroom.ID,
		Name:            classroom.ClassName,
		Comment:         strings.Join(args[1:], " "),
		AssociationTime: time.Now().UTC(),
		RegisteredBy:    msg.From.ID,
	}
	if err := b.tokens.AssociateChatWithClassroom(context.Background(), msg.Chat.ID, mapping); err != nil {
		return fmt.Errorf("failed to save mapping: %v", err)
	}

	return b.sendMessage(msg.Chat.ID, fmt.Sprintf(
		"✅ This chat now reports on classroom %s (id %d)",
		classroom.ClassName, classroom.ID,
	))
}

func (b *Bot) handleChats(msg *tgbotapi.Message) error {
	mappings, err := b.tokens.FetchAllChatMappings(context.Background())
	if err != nil {
		return fmt.Errorf("failed to fetch chat mappings: %v", err)
	}

	return b.sendMessage(msg.Chat.ID, formatChatMappings(mappings))
}

func formatChatMappings(mappings map[string]*models.ChatClassMapping) string {
	if len(mappings) == 0 {
		return "No chats are bound to classrooms yet"
	}

	chatIDs := make([]string, 0, len(mappings))
	for chatID := range mappings {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Strings(chatIDs)

	var out strings.Builder
	out.WriteString("Bound chats:\n\n")
	for _, chatID := range chatIDs {
		m := mappings[chatID]
		out.WriteString(fmt.Sprintf("💬 chat %s → %s (classroom %d)\nregistered by %d on %s\n\n",
			chatID, m.Name, m.ClassroomID, m.RegisteredBy, m.AssociationTime.Format("2006-01-02")))
	}

	return out.String()
}

func (b *Bot) handlePoints(msg *tgbotapi.Message) error {
	mapping, err := b.tokens.FetchClassMappingByChatID(context.Background(), msg.Chat.ID)
	if err != nil {
		return fmt.Errorf("this chat is not bound to a classroom, ask an admin to /register it")
	}

	rows, err := b.store.ListClassPoints(mapping.ClassroomID)
	if err != nil {
		return fmt.Errorf("failed to fetch class points: %v", err)
	}

	if len(rows) == 0 {
		return b.sendMessage(msg.Chat.ID, "No points recorded yet")
	}

	var out strings.Builder
	out.WriteString(fmt.Sprintf("Class points for %s:\n\n", mapping.Name))
	for i, row := range rows {
		out.WriteString(fmt.Sprintf("%d. %s — %d\n", i+1, row.FullName, row.Points))
	}

	return b.sendMessage(msg.Chat.ID, out.String())
}

func (b *Bot) handleRanking(msg *tgbotapi.Message) error {
	sessionID, err := b.sessionArg(msg, "/ranking <session_id>")
	if err != nil {
		return err
	}

	rankings, err := b.rankings.Rankings(sessionID)
	if err != nil {
		return fmt.Errorf("failed to compute rankings: %v", err)
	}

	if rankings.TotalEvaluations == 0 {
		return b.sendMessage(msg.Chat.ID, "No evaluations submitted yet")
	}

	var out strings.Builder
	out.WriteString(fmt.Sprintf("Standings (%d evaluations, %d groups):\n\n",
		rankings.TotalEvaluations, rankings.TotalGroups))
	for i, s := range rankings.Standings {
		out.WriteString(fmt.Sprintf("%d. %s — %d points (🥇%d 🥈%d)\n",
			i+1, s.Group.DisplayName(), s.Score, s.FirstPlaceVotes, s.SecondPlaceVotes))
	}

	return b.sendMessage(msg.Chat.ID, out.String())
}

func (b *Bot) handleReport(msg *tgbotapi.Message) error {
	sessionID, err := b.sessionArg(msg, "/report <session_id>")
	if err != nil {
		return err
	}

	report, err := b.rankings.SessionReport(sessionID)
	if err != nil {
		return fmt.Errorf("failed to build report: %v", err)
	}

	if len(report) == 0 {
		return b.sendMessage(msg.Chat.ID, "Nothing to report for this session yet")
	}

	var out strings.Builder
	out.WriteString(fmt.Sprintf("Session %d sheet:\n\n", sessionID))
	for _, row := range report {
		out.WriteString(fmt.Sprintf("👉🏻 %s: QR %d + peer %.1f = %.1f\n",
			row.FullName, row.QRPoints, row.PeerScore, row.TotalScore))
	}

	return b.sendMessage(msg.Chat.ID, out.String())
}

func (b *Bot) sessionArg(msg *tgbotapi.Message, usage string) (int64, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	sessionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id: %v", err)
	}
	return sessionID, nil
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
