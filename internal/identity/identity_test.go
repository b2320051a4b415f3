package identity

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCanonical(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String(), Normalize(id.String()))

	// Uppercase and padded forms collapse to the canonical representation.
	upper := "  " + strings.ToUpper(id.String()) + " "
	assert.Equal(t, id.String(), Normalize(upper))
}

func TestNormalizeOpaque(t *testing.T) {
	assert.Equal(t, "bot-medium-3", Normalize("bot-medium-3"))
	assert.Equal(t, "guest_8841", Normalize(" guest_8841 "))
	assert.False(t, IsCanonical("bot-medium-3"))
	assert.True(t, IsCanonical(uuid.New().String()))
}
