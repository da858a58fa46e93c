package missions

import (
	"fmt"
	"net/http"
)

// Kind classifies a RequestError.
type Kind int

const (
	MalformedRequest Kind = iota + 1
	NotFound
	InconsistentState
)

func (k Kind) String() string {
	switch k {
	case MalformedRequest:
		return "malformed_request"
	case NotFound:
		return "not_found"
	case InconsistentState:
		return "inconsistent_state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RequestError is a terminal failure of a request, carrying the status and
// the message shown to the caller.
type RequestError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

const (
	msgInvalidActiveCount = "Invalid number of active missions."
	msgMissionIDNotInt    = "Mission ID is not an integer."
	msgMissionNotFound    = "Mission not found."
	msgBodyNotJSON        = "Body is not a valid json"
	msgBadFields          = "JSON does not contain properly formatted fields"
	msgWaypointsChanged   = "Successfully changed mission waypoints"
)

func errInconsistentActive() *RequestError {
	return &RequestError{Kind: InconsistentState, Status: http.StatusInternalServerError, Message: msgInvalidActiveCount}
}

func errMalformed(message string) *RequestError {
	return &RequestError{Kind: MalformedRequest, Status: http.StatusBadRequest, Message: message}
}

// The resolver reports unknown mission ids as 400, while endpoints addressing
// a mission directly answer 404.
func errResolveNotFound() *RequestError {
	return &RequestError{Kind: NotFound, Status: http.StatusBadRequest, Message: msgMissionNotFound}
}

// errNoSuchMission answers a path segment that cannot name a mission at all.
func errNoSuchMission() *RequestError {
	return &RequestError{Kind: NotFound, Status: http.StatusNotFound, Message: msgMissionNotFound}
}

func errMissionNotFound(id int64) *RequestError {
	return &RequestError{Kind: NotFound, Status: http.StatusNotFound, Message: fmt.Sprintf("Mission %d not found.", id)}
}
