package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"ingest", "value", "serve", "migrate", "runs", "missing", "export", "benchmark"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "propsync", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range ingestCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"ura", "propnex", "ocr", "manual"} {
		assert.True(t, names[name], "ingest should have subcommand %q", name)
	}
}

func TestIngestPropNexCommand_Flags(t *testing.T) {
	for _, name := range []string{"start", "end", "retry-missing"} {
		assert.NotNil(t, ingestPropNexCmd.Flags().Lookup(name), "ingest propnex should have --%s flag", name)
	}
}

func TestIngestOCRCommand_Args(t *testing.T) {
	assert.Error(t, ingestOCRCmd.Args(ingestOCRCmd, []string{"only-dir"}))
	assert.NoError(t, ingestOCRCmd.Args(ingestOCRCmd, []string{"dir", "The Sail"}))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestValueCommand_Flags(t *testing.T) {
	flag := valueCmd.Flags().Lookup("sqft")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	assert.Error(t, valueCmd.Args(valueCmd, []string{"The Sail"}))
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "csv", flag.DefValue)
	assert.NotNil(t, exportCmd.Flags().ShorthandLookup("o"))
}
