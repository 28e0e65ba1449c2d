package types

import "strings"

// CommandType is the discriminator carried in a command's "type" field.
type CommandType string

// Command types produced by this service. The unit may understand others;
// the queue does not care.
const (
	CommandSpeak    CommandType = "speak"
	CommandAction   CommandType = "action"
	CommandSetMode  CommandType = "set_mode"
	CommandMove     CommandType = "move"
	CommandNavigate CommandType = "navigate"
)

// CommandTypeField is the JSON key holding the discriminator.
const CommandTypeField = "type"

// Command is an opaque tagged payload delivered to the unit. Beyond the
// "type" key its fields are carried verbatim; identity is its position in
// the queue.
type Command map[string]any

// NewCommand builds a command of the given type with extra fields merged in.
// A "type" key inside fields is overwritten.
func NewCommand(t CommandType, fields map[string]any) Command {
	cmd := make(Command, len(fields)+1)
	for k, v := range fields {
		cmd[k] = v
	}
	cmd[CommandTypeField] = string(t)
	return cmd
}

// NewSpeakCommand is the command the scheduler emits for a due entry.
func NewSpeakCommand(text string) Command {
	return Command{CommandTypeField: string(CommandSpeak), "text": text}
}

// Type returns the discriminator, or "" when it is missing or not a string.
func (c Command) Type() string {
	t, _ := c[CommandTypeField].(string)
	return t
}

// ValidateCommand checks the minimal intake shape: a JSON object whose "type"
// is a non-blank string.
func ValidateCommand(c Command) error {
	if c == nil {
		return NewAppError(ErrCodeValidationInvalidCommand, "command must be a JSON object", nil)
	}
	raw, ok := c[CommandTypeField]
	if !ok {
		return NewAppError(ErrCodeValidationInvalidCommand, "command is missing the \"type\" field", nil)
	}
	t, ok := raw.(string)
	if !ok || strings.TrimSpace(t) == "" {
		return NewAppError(ErrCodeValidationInvalidCommand, "command \"type\" must be a non-empty string", nil)
	}
	return nil
}
