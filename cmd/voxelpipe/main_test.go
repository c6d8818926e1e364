package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
)

func TestExecuteMapsErrorsToExitCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   int
		stderr string
	}{
		{"success", nil, 0, ""},
		{"killed job", exitCodeError{code: 247}, 247, ""},
		{"wrapped exit code", errors.Join(errors.New("ctx"), exitCodeError{code: 3}), 3, ""},
		{"interrupted", context.Canceled, 1, ""},
		{"failure", errors.New("boom"), 1, "boom\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := &cobra.Command{
				Use:           "voxelpipe",
				SilenceUsage:  true,
				SilenceErrors: true,
				RunE:          func(*cobra.Command, []string) error { return tc.err },
			}
			cmd.SetArgs([]string{})
			var stderr bytes.Buffer
			cmd.SetErr(&stderr)
			if got := execute(cmd); got != tc.code {
				t.Fatalf("exit code = %d, want %d", got, tc.code)
			}
			if stderr.String() != tc.stderr {
				t.Fatalf("stderr = %q, want %q", stderr.String(), tc.stderr)
			}
		})
	}
}
