package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/view"
)

func TestParseViewParams(t *testing.T) {
	params, err := parseViewParams([]string{
		"ProcTreeView.output=/tmp/tree.json",
		"ProcTreeView.meta_key=exec",
		"CSVView.output=/tmp/csv",
	})
	require.NoError(t, err)

	assert.Equal(t, view.Params{
		"output":   "/tmp/tree.json",
		"meta_key": "exec",
	}, params["ProcTreeView"])
	assert.Equal(t, view.Params{"output": "/tmp/csv"}, params["CSVView"])
}

func TestParseViewParamsValueWithEquals(t *testing.T) {
	params, err := parseViewParams([]string{"DBGView.output=a=b.trace"})
	require.NoError(t, err)
	assert.Equal(t, "a=b.trace", params["DBGView"]["output"])
}

func TestParseViewParamsMalformed(t *testing.T) {
	for _, raw := range []string{"no-equals", "nodot=value", ".key=value"} {
		t.Run(raw, func(t *testing.T) {
			_, err := parseViewParams([]string{raw})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
		})
	}
}
