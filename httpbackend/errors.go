package httpbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// errorBody covers the error shapes the backend produces: a plain detail
// string, a list of field errors under detail, or message/error keys.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type fieldError struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// decodeError maps a non-2xx response into a go-errors value carrying the
// HTTP status as its Code.
func decodeError(status int, body []byte) *goerrors.Error {
	var parsed errorBody
	var fields []string
	message := ""

	if err := json.Unmarshal(body, &parsed); err == nil {
		message, fields = detailMessage(parsed.Detail)
		if message == "" {
			message = strings.TrimSpace(parsed.Message)
		}
		if message == "" {
			message = strings.TrimSpace(parsed.Error)
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}

	textCode := strings.TrimSpace(parsed.Code)
	if textCode == "" {
		textCode = fmt.Sprintf("HTTP_%d", status)
	}

	err := goerrors.New(message, categoryForStatus(status)).
		WithCode(status).
		WithTextCode(textCode)
	if len(fields) > 0 {
		err = err.WithMetadata(map[string]any{"fields": fields})
	}
	return err
}

func detailMessage(raw json.RawMessage) (string, []string) {
	if len(raw) == 0 {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text), nil
	}

	var items []fieldError
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return "", nil
	}

	fields := make([]string, 0, len(items))
	for _, item := range items {
		if item.Msg == "" {
			continue
		}
		if len(item.Loc) > 0 {
			fields = append(fields, fmt.Sprintf("%v: %s", item.Loc[len(item.Loc)-1], item.Msg))
			continue
		}
		fields = append(fields, item.Msg)
	}
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 400 && status < 500:
		return goerrors.CategoryValidation
	case status >= 500:
		return goerrors.CategoryOperation
	default:
		return goerrors.CategoryInternal
	}
}
