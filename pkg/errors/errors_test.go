package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"stale", NewStaleTicketError("filter", 3, 4), "stale-ticket"},
		{"busy", NewBusyError("ruleset %q not open", "main"), "busy"},
		{"wrapped twice", fmt.Errorf("commit: %w", NewBusyError("x")), "busy"},
		{"not found", NewNotFoundError("rule", 7), "not-found"},
		{"exhausted", NewExhaustedError("tags", 65535), "exhausted"},
		{"rate", NewRateLimitedError("10.0.0.1", 3, 60), "rate-limited"},
		{"permission", NewPermissionError("RulesBegin"), "permission-denied"},
		{"unknown", errors.New("boom"), "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Kind(tc.err))
		})
	}
}

func TestFromKindRoundTrip(t *testing.T) {
	for _, k := range kinds {
		assert.Same(t, k.err, FromKind(k.name))
	}
	assert.Nil(t, FromKind("no-such-kind"))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(NewStaleTicketError("nat", 1, 2)))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(NewPermissionError("StatesKill")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestConstructorMessages(t *testing.T) {
	assert.Equal(t, "stale ticket: filter ticket 3 (current 4)", NewStaleTicketError("filter", 3, 4).Error())
	assert.Equal(t, "invalid argument: return-icmp type 19", NewInvalidError("return-icmp type %d", 19).Error())
	assert.True(t, Is(NewDuplicateError("state", "a"), ErrDuplicate))
}
