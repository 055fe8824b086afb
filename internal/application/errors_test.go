package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/cleaning-scheduler/internal/scheduler"
)

func TestValidationError(t *testing.T) {
	t.Parallel()

	var nilErr *ValidationError
	assert.Equal(t, "", nilErr.Error())
	assert.False(t, nilErr.HasErrors())

	empty := &ValidationError{}
	assert.Equal(t, "validation failed", empty.Error())
	assert.False(t, empty.HasErrors())

	populated := &ValidationError{}
	populated.add("photos", "at least 2 photo(s) required, got 0")
	populated.add("comment", "comment is required")
	assert.True(t, populated.HasErrors())
	assert.Equal(t, "validation failed: comment, photos", populated.Error())
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrUnauthorized, want: "unauthorized"},
		{err: ErrOccurrenceRemoved, want: "task_removed"},
		{err: fmt.Errorf("wrap: %w", ErrNotFound), want: "not_found"},
		{err: ErrInvalidCronToken, want: "invalid_cron_token"},
		{err: fmt.Errorf("calendar: %w", scheduler.ErrRangeTooWide), want: "invalid_range"},
		{err: context.DeadlineExceeded, want: "canceled"},
		{err: &ValidationError{FieldErrors: map[string]string{"text": "required"}}, want: "validation"},
		{err: errors.New("disk full"), want: "unexpected"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}

	assert.ErrorIs(t, ErrOccurrenceRemoved, ErrNotFound)
}
