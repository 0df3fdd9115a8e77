package commands

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPromptCommand(input string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

func TestPromptPasswordPiped(t *testing.T) {
	// Test stdin is not a terminal, so a single piped line is read and
	// the confirmation pass is skipped.
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "newline terminated", input: "s3cret\n", want: "s3cret"},
		{name: "crlf terminated", input: "s3cret\r\n", want: "s3cret"},
		{name: "no trailing newline", input: "s3cret", want: "s3cret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := promptPassword(newPromptCommand(tt.input), true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromptPasswordEmptyInput(t *testing.T) {
	_, err := promptPassword(newPromptCommand(""), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read password")
}
