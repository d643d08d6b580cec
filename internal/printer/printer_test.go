package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		var buf bytes.Buffer
		err := Error(&buf, "Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		require.Contains(t, buf.String(), "This is a test error")
	})

	t.Run("numbers multiple suggestions", func(t *testing.T) {
		var buf bytes.Buffer
		err := Error(&buf, "Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		require.Contains(t, buf.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestSuccessAndWarningPrefixes(t *testing.T) {
	var buf bytes.Buffer
	Success(&buf, "saved\n")
	Success(&buf, "✓ already prefixed\n")
	Warning(&buf, "careful\n")
	require.Equal(t, "✓ saved\n✓ already prefixed\n⚠️  careful\n", buf.String())
}

func TestFieldAlignment(t *testing.T) {
	var buf bytes.Buffer
	Field(&buf, 2, 6, "name", "Ada")
	Field(&buf, 2, 6, "phone", "")
	require.Equal(t, "  name    Ada\n  phone   -\n", buf.String())
}
