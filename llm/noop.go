package llm

import "context"

// noopResponder always answers ("", 0). It is the safe default for deploy
// modes without a wired backend, so an unset provider degrades to the
// soft-failure path instead of crashing requests.
type noopResponder struct{}

func (noopResponder) Respond(context.Context, Conversation, []string, Params) (string, int, error) {
	return "", 0, nil
}
