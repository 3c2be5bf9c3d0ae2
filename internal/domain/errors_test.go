package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("create booking: %w", ErrSlotUnavailable)

	assert.True(t, errors.Is(wrapped, ErrSlotUnavailable))
	assert.Equal(t, KindRule, KindOf(wrapped))
	assert.Equal(t, "slot_unavailable", CodeOf(wrapped))

	assert.Equal(t, KindNotFound, KindOf(ErrBookingNotFound))
	assert.Equal(t, KindConflict, KindOf(ErrConcurrentModification))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
}
