package chat

import "strings"

// commandPrefix marks a message as a control command.
const commandPrefix = "."

// Command is a parsed dot-command.
type Command struct {
	Name string   // lowercase command name, without the prefix
	Args []string // remaining whitespace-separated words
}

// knownCommands is the set of commands the CommandHandler supports. Text
// starting with "." but not naming one of these is treated as ordinary chat
// and ignored, so messages like "...thinking" never trigger the bot.
var knownCommands = map[string]bool{
	"join":   true,
	"leave":  true,
	"play":   true,
	"stop":   true,
	"pause":  true,
	"resume": true,
	"replay": true,
	"mute":   true,
	"unmute": true,
	"shazam": true,
	"status": true,
	"debug":  true,
	"help":   true,
}

// parseCommand extracts a dot-command from message text. The second return
// is false when the text is not a command at all.
func parseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, commandPrefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, commandPrefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	name := strings.ToLower(fields[0])
	if !knownCommands[name] {
		return Command{}, false
	}
	return Command{Name: name, Args: fields[1:]}, true
}
