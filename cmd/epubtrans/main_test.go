package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "translate")
	assert.Contains(t, names, "cache")
	assert.Contains(t, names, "watch")
	assert.Contains(t, names, "version")

	cacheCmd, _, err := root.Find([]string{"cache", "prune"})
	require.NoError(t, err)
	assert.Equal(t, "prune", cacheCmd.Name())
}

func TestTranslateRequiresInputArg(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"translate"})
	assert.Error(t, root.Execute())
}
