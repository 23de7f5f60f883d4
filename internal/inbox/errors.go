package inbox

import "errors"

var (
	ErrSessionNotFound      = errors.New("inbox session not found")
	ErrNotFound             = errors.New("not found")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrUnknownKind          = errors.New("unknown conversation kind")
)
