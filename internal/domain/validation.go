package domain

import (
	"fmt"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateRawEvent performs strict checks on an event before it is routed.
// Nothing is looked up or persisted for an event that fails here.
func ValidateRawEvent(ev *RawRoutedEvent) []FieldError {
	var errs []FieldError

	if ev.Namespace == "" {
		errs = append(errs, FieldError{"namespace", "required"})
	} else if len(ev.Namespace) > MaxNamespaceLen {
		errs = append(errs, FieldError{"namespace", fmt.Sprintf("max length %d", MaxNamespaceLen)})
	}

	if ev.Kind == "" {
		errs = append(errs, FieldError{"type", "required"})
	} else if !ev.Kind.Known() {
		errs = append(errs, FieldError{"type", fmt.Sprintf("unsupported event type %q", ev.Kind)})
	}

	if ev.Kind.NeedsActor() {
		if ev.ActorExternalID == "" {
			errs = append(errs, FieldError{"user_uid", "required"})
		} else if len(ev.ActorExternalID) > MaxExternalID {
			errs = append(errs, FieldError{"user_uid", fmt.Sprintf("max length %d", MaxExternalID)})
		}
		if ev.ChannelExternalID == "" {
			errs = append(errs, FieldError{"channel_uid", "required"})
		} else if len(ev.ChannelExternalID) > MaxExternalID {
			errs = append(errs, FieldError{"channel_uid", fmt.Sprintf("max length %d", MaxExternalID)})
		}
		// kept verbatim, only presence is checked
		if ev.Timestamp == "" {
			errs = append(errs, FieldError{"timestamp", "required"})
		}
	}

	if len(ev.BotExternalID) > MaxExternalID {
		errs = append(errs, FieldError{"relax_bot_uid", fmt.Sprintf("max length %d", MaxExternalID)})
	}
	if len(ev.Text) > MaxTextLen {
		errs = append(errs, FieldError{"text", fmt.Sprintf("max length %d", MaxTextLen)})
	}

	return errs
}

// CheckRawEvent wraps ValidateRawEvent into an InvalidDataError.
func CheckRawEvent(ev *RawRoutedEvent) error {
	if errs := ValidateRawEvent(ev); len(errs) > 0 {
		return &InvalidDataError{Msg: "invalid routed event", Fields: errs}
	}
	return nil
}
