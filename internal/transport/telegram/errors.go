package telegram

import (
	"errors"
	"fmt"
	"net/http"

	tele "gopkg.in/telebot.v4"

	"dmrelay/internal/transport"
)

// classifyTeleError wraps telebot failures with the transport sentinels so
// the relay core can classify without importing telebot.
func classifyTeleError(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("%w: retry after %ds", transport.ErrRateLimited, flood.RetryAfter)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", transport.ErrRateLimited, apiErr.Description)
		case http.StatusForbidden:
			// Blocked bot, never-started chat, deactivated account.
			return fmt.Errorf("%w: %s", transport.ErrForbidden, apiErr.Description)
		}
	}
	return err
}
