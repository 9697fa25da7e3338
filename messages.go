package lockguard

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const messagePlaceholder = "##i##"

// renderMessage substitutes n for every ##i## in tmpl.
func renderMessage(tmpl string, n int) string {
	if !strings.Contains(tmpl, messagePlaceholder) {
		return tmpl
	}
	return strings.ReplaceAll(tmpl, messagePlaceholder, strconv.Itoa(n))
}

// minutesUntil rounds up so a lock with 30s left still reads "1 minutes".
func minutesUntil(now, until time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

func (e *Engine) messageErr(kind error, tmpl string) error {
	return &MessageError{Kind: kind, Message: tmpl}
}

func (e *Engine) lockedErr(now time.Time, until *time.Time) error {
	minutes := e.config.Security.LockAccountForMinutes
	if until != nil {
		minutes = minutesUntil(now, *until)
	}
	return &AccountLockedError{
		Until:   cloneTime(until),
		Message: renderMessage(e.config.ErrMsg.AccountLocked, minutes),
	}
}

func (e *Engine) passwordIncorrectErr(remaining int) error {
	if remaining < 0 {
		return &PasswordIncorrectError{
			Remaining: -1,
			Message:   e.config.ErrMsg.PasswordIncorrectNoLockout,
		}
	}
	return &PasswordIncorrectError{
		Remaining: remaining,
		Message:   renderMessage(e.config.ErrMsg.PasswordIncorrect, remaining),
	}
}
