package models

import "errors"

// Error variables shared by the webhook, flow and dispatcher packages.
var (
	// ErrMalformedPayload marks a webhook payload that failed schema validation.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrInvalidStepInput marks a registration answer rejected by its step validator.
	ErrInvalidStepInput = errors.New("invalid step input")
	// ErrUnknownSelection marks a menu selection that matches no option.
	ErrUnknownSelection = errors.New("unknown selection")
	// ErrCollaboratorFailure marks a failed messaging, completion or tabular store call.
	ErrCollaboratorFailure = errors.New("collaborator failure")
	// ErrSessionStoreUnavailable marks a session store read, write or lock failure.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
)
