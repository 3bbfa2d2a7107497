package dispatch

import (
	"fmt"
	"strings"

	"github.com/ent0n29/cheerup/internal/duration"
)

const personaPreamble = `You are the character described as: "%s". Speak only as this character and output only the character's line, with no narration or explanation.`

func buildPrompt(n Notification) (string, error) {
	desc := n.Task.Description
	var instruction string
	switch n.Kind {
	case KindStart:
		instruction = fmt.Sprintf("Say one line encouraging the user to start the task %q and get it done within %s.", desc, duration.Format(n.Task.Window()))
	case KindReminder:
		instruction = fmt.Sprintf("The user is in the middle of the task %q with about %s left. Check in on them with one short encouraging line.", desc, duration.Format(n.Remaining))
	case KindCongratulate:
		instruction = fmt.Sprintf("The user successfully finished the task %q. Say one line praising or congratulating them.", desc)
	case KindConsole:
		instruction = fmt.Sprintf("The user said they could not finish the task %q. Say one line comforting them or encouraging them for next time.", desc)
	case KindReaction:
		instruction = fmt.Sprintf("The user described how the task %q went: %q. React to it in one line.", desc, n.Note)
	case KindExtend:
		instruction = fmt.Sprintf("The user asked for more time on the task %q and now has %s. Say one line cheering them on.", desc, duration.Format(n.Task.Window()))
	case KindAbandon:
		instruction = fmt.Sprintf("The user decided to give up on the task %q. Say one line in response.", desc)
	default:
		return "", fmt.Errorf("no prompt for notification kind %q", n.Kind)
	}
	return strings.Join([]string{fmt.Sprintf(personaPreamble, n.Task.Persona.Persona), instruction}, "\n"), nil
}

func outcomeQuestion(n Notification) string {
	return fmt.Sprintf("%s, did you finish **%q**?", mention(n.Task.UserID), n.Task.Description)
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
