package config

import "github.com/ocx/fixlib/internal/errs"

// Validate applies §7's INVALID_CONFIGURATION check: a programmer error
// caught at startup rather than surfaced through a ReplyHandle.
func (c *Config) Validate() error {
	if len(c.Engines.Channels) == 0 {
		return errs.New(errs.KindInvalidConfiguration, c.Library.LibraryID, "no engine channels configured")
	}
	if c.Library.FragmentLimit <= 0 {
		return errs.New(errs.KindInvalidConfiguration, c.Library.LibraryID, "fragment_limit must be positive")
	}
	if c.Reconnect.ReconnectAttempts < 0 {
		return errs.New(errs.KindInvalidConfiguration, c.Library.LibraryID, "reconnect_attempts must be >= 0")
	}
	if c.Reconnect.ReplyTimeoutMs <= 0 {
		return errs.New(errs.KindInvalidConfiguration, c.Library.LibraryID, "reply_timeout_ms must be positive")
	}
	return nil
}
