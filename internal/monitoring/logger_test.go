package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	Logf("hello %d", 1)
	assert.Equal(t, []string{"hello 1"}, lines)

	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, lines, 1, "no-op logger must not forward")
}

func TestComponent_PrefixesAndFollowsSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Component("robot")

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	logf("state %s -> %s", "stop", "velocity")
	assert.Equal(t, "[robot] state stop -> velocity", got)
}
