package main

import (
	"errors"
	"fmt"
	"strings"

	"studylink/pkg/types"
)

var errEmptyLine = errors.New("empty input")

// parseLine turns one line typed at the prompt into the payload to send.
//
//	/status online|away|offline   update presence
//	/activity <action> [subject]  record an activity
//	/notify <user> <text>         send a notification
//	@<user> <text>                direct message
//	<text>                        message to everyone
func parseLine(line string) (types.Payload, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errEmptyLine
	}

	if strings.HasPrefix(line, "@") {
		to, text, ok := strings.Cut(line[1:], " ")
		if !ok || to == "" || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("usage: @<user> <text>")
		}
		return types.MessagePayload{To: to, Text: strings.TrimSpace(text)}, nil
	}

	if !strings.HasPrefix(line, "/") {
		return types.MessagePayload{Text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/status":
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: /status online|away|offline")
		}
		status := types.UserStatus(fields[1])
		if !status.Valid() {
			return nil, types.ErrInvalidUserStatus
		}
		return types.UserStatusPayload{Status: status}, nil

	case "/activity":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: /activity <action> [subject]")
		}
		a := types.ActivityPayload{Action: fields[1]}
		if len(fields) > 2 {
			a.Subject = strings.Join(fields[2:], " ")
		}
		return a, nil

	case "/notify":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: /notify <user> <text>")
		}
		return types.NotificationPayload{To: fields[1], Message: strings.Join(fields[2:], " ")}, nil

	default:
		return nil, fmt.Errorf("unknown command %s", fields[0])
	}
}

// describe renders an inbound payload for the terminal.
func describe(payload types.Payload) string {
	switch p := payload.(type) {
	case types.MessagePayload:
		if p.Status == types.MessageStatusSent {
			return fmt.Sprintf("[sent] %s", p.Text)
		}
		return fmt.Sprintf("[message] %s: %s", p.From, p.Text)
	case types.NotificationPayload:
		if p.Title != "" {
			return fmt.Sprintf("[notification] %s: %s", p.Title, p.Message)
		}
		return fmt.Sprintf("[notification] %s", p.Message)
	case types.UserStatusPayload:
		return fmt.Sprintf("[presence] %s is %s", p.UserID, p.Status)
	case types.ConnectionPayload:
		if p.Mock {
			return fmt.Sprintf("[connection] %s (mock)", p.Status)
		}
		return fmt.Sprintf("[connection] %s", p.Status)
	case types.ErrorPayload:
		return fmt.Sprintf("[error] %s", p.Error)
	case types.ActivityPayload:
		return fmt.Sprintf("[activity] %s %s", p.UserID, p.Action)
	case types.HomeworkUpdatePayload:
		return fmt.Sprintf("[homework] %s %s", p.HomeworkID, p.Status)
	case types.QuizUpdatePayload:
		return fmt.Sprintf("[quiz] %s %d/%d", p.QuizID, p.Score, p.Total)
	case types.AchievementPayload:
		return fmt.Sprintf("[achievement] %s", p.Title)
	default:
		return fmt.Sprintf("[%s]", payload.Kind())
	}
}
