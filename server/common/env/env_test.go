package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationParsesUnitsAndSeconds(t *testing.T) {
	t.Setenv("JT_TIMEOUT", "250ms")
	assert.Equal(t, 250*time.Millisecond, Duration("JT_TIMEOUT", time.Second))

	t.Setenv("JT_TIMEOUT", "7")
	assert.Equal(t, 7*time.Second, Duration("JT_TIMEOUT", time.Second))

	t.Setenv("JT_TIMEOUT", "soon")
	assert.Equal(t, time.Second, Duration("JT_TIMEOUT", time.Second))
}

func TestCSVTrimsAndDedupes(t *testing.T) {
	t.Setenv("JT_ORIGINS", " https://a.test, ,https://b.test,https://a.test ")
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, CSV("JT_ORIGINS", []string{"*"}))

	t.Setenv("JT_ORIGINS", " , ")
	assert.Equal(t, []string{"*"}, CSV("JT_ORIGINS", []string{"*"}))
}

func TestIntAndBoolFallbacks(t *testing.T) {
	t.Setenv("JT_INT", "-3")
	assert.Equal(t, 10, Int("JT_INT", 10))
	t.Setenv("JT_BOOL", "nope")
	assert.True(t, Bool("JT_BOOL", true))
	t.Setenv("JT_BOOL", "false")
	assert.False(t, Bool("JT_BOOL", true))
}
