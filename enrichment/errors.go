package enrichment

import (
	"errors"
	"fmt"
)

// User-facing messages rendered in place of data.
const (
	MsgConnection = "Ошибка соединения с сервером"
	MsgNoData     = "Ошибка получения данных"
)

// FetchError reports a failed enrichment or known-identifier lookup.
// Transport is true when the backend could not be reached or answered with
// something that is not a valid response; otherwise the backend itself
// reported the failure in Message.
type FetchError struct {
	Service   string
	Article   string
	Message   string
	Transport bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enrichment: %s %q: %s: %v", e.Service, e.Article, e.Message, e.Err)
	}
	return fmt.Sprintf("enrichment: %s %q: %s", e.Service, e.Article, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Message returns the text to show a user for err.
func Message(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return MsgConnection
}
