// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/viking-dev/viking/internal/config"
	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/secrets"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepEmbedding   initWizardStep = iota // select embedding backend
	stepSummary                           // select summary provider
	stepAPIKey                            // enter API key of the next pending provider
	stepValidateKey                       // validating key (spinner)
	stepWriting                           // storing keys and writing config
	stepDone                              // wizard complete
	stepError                             // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Embedding string
	Summary   string
	// Keys holds the API key entered for each hosted provider.
	Keys map[provider.Name]string
}

// hosted returns the providers the selections need keys for, in the order
// they are asked.
func (r initResult) hosted() []provider.Name {
	var names []provider.Name
	for _, choice := range []string{r.Embedding, r.Summary} {
		name := provider.Name(choice)
		if slices.Contains(provider.Names(), name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{ provider provider.Name }
	validationErrorMsg   struct {
		provider provider.Name
		err      error
	}
)
type configWrittenMsg struct{ path string }

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// choice is one selectable wizard option.
type choice struct {
	value string
	hint  string
}

var embeddingChoices = []choice{
	{"hash", "local feature hashing, no API key"},
	{"openai", "text-embedding-3-small"},
	{"google", "gemini-embedding-001"},
}

var summaryChoices = []choice{
	{"extractive", "local sentence ranking, no API key"},
	{"none", "no abstracts"},
	{"anthropic", "Claude"},
	{"openai", "GPT"},
	{"google", "Gemini"},
	{"openrouter", "any OpenRouter model"},
}

// embeddingDimensions is the vector size written for each backend.
var embeddingDimensions = map[string]int{
	"hash":   256,
	"openai": 1536,
	"google": 768,
}

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	embeddingIdx   int
	summaryIdx     int
	apiKeyInput    textinput.Model
	spinner        spinner.Model
	result         initResult
	pending        []provider.Name
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	skipValidation bool
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepEmbedding,
		apiKeyInput: apiKey,
		spinner:     sp,
		result:      initResult{Keys: map[provider.Name]string{}},
		secretStore: store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m.nextKey()

	case validationErrorMsg:
		delete(m.result.Keys, msg.provider)
		m.validationErr = msg.err.Error()
		m.step = stepAPIKey
		m.apiKeyInput.Focus()
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	if m.step == stepAPIKey {
		var cmd tea.Cmd
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepEmbedding:
		idx, action := moveCursor(msg, m.embeddingIdx, len(embeddingChoices))
		m.embeddingIdx = idx
		switch action {
		case selectChosen:
			m.result.Embedding = embeddingChoices[idx].value
			m.step = stepSummary
		case selectQuit:
			return m, tea.Quit
		}
		return m, nil
	case stepSummary:
		idx, action := moveCursor(msg, m.summaryIdx, len(summaryChoices))
		m.summaryIdx = idx
		switch action {
		case selectChosen:
			m.result.Summary = summaryChoices[idx].value
			m.pending = m.result.hosted()
			return m.askKey()
		case selectQuit:
			return m, tea.Quit
		}
		return m, nil
	case stepAPIKey:
		return m.handleAPIKeyInput(msg)
	}
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	return m, nil
}

type selectAction int

const (
	selectNone selectAction = iota
	selectChosen
	selectQuit
)

// moveCursor applies a navigation key to a list cursor over n choices.
func moveCursor(msg tea.KeyMsg, idx, n int) (int, selectAction) {
	switch msg.String() {
	case "up", "k":
		if idx > 0 {
			idx--
		}
	case "down", "j":
		if idx < n-1 {
			idx++
		}
	case "enter":
		return idx, selectChosen
	case "q", "ctrl+c":
		return idx, selectQuit
	}
	return idx, selectNone
}

// askKey prompts for the first pending provider, or writes the config when
// no key is missing.
func (m initModel) askKey() (tea.Model, tea.Cmd) {
	if len(m.pending) == 0 {
		m.step = stepWriting
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	}
	m.step = stepAPIKey
	m.validationErr = ""
	m.apiKeyInput.SetValue("")
	m.apiKeyInput.Focus()
	return m, textinput.Blink
}

// nextKey drops the provider whose key was just accepted.
func (m initModel) nextKey() (tea.Model, tea.Cmd) {
	if len(m.pending) > 0 {
		m.pending = m.pending[1:]
	}
	return m.askKey()
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		name := m.pending[0]
		m.result.Keys[name] = key
		m.validationErr = ""
		if m.skipValidation {
			return m.nextKey()
		}
		m.step = stepValidateKey
		return m, tea.Batch(
			m.spinner.Tick,
			validateProviderKeyCmd(name, key),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Viking Setup  ") + "\n\n")

	switch m.step {
	case stepEmbedding:
		b.WriteString(promptStyle.Render("Step 1/3: Choose an embedding backend") + "\n\n")
		renderChoices(&b, embeddingChoices, m.embeddingIdx)
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepSummary:
		b.WriteString(promptStyle.Render("Step 2/3: Choose how abstracts are written") + "\n\n")
		renderChoices(&b, summaryChoices, m.summaryIdx)
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render("Step 3/3: "+string(m.pending[0])+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + string(m.pending[0]) + " API key…\n")

	case stepWriting:
		b.WriteString("Writing configuration…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("viking serve") + " and " + promptStyle.Render("viking add <url>") + " to get started.\n")
		b.WriteString("Run " + promptStyle.Render("viking doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func renderChoices(b *strings.Builder, choices []choice, selected int) {
	for i, c := range choices {
		line := fmt.Sprintf("%-12s %s", c.value, c.hint)
		if i == selected {
			b.WriteString(selectedStyle.Render("  > "+line) + "\n")
		} else {
			b.WriteString(dimStyle.Render("    "+line) + "\n")
		}
	}
}

// --- tea.Cmd factories ---

func validateProviderKeyCmd(name provider.Name, key string) tea.Cmd {
	return func() tea.Msg {
		if err := validateProviderKey(context.Background(), name, key); err != nil {
			return validationErrorMsg{provider: name, err: err}
		}
		return validationSuccessMsg{provider: name}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretsAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation ---

// keyRef is the keyring URI under which the key of name is stored.
func keyRef(name provider.Name) string {
	return "keyring://" + secrets.DefaultService + "/" + string(name) + "-api-key"
}

// GenerateConfigYAML produces viking.yaml from the wizard result. API keys
// are referenced via keyring:// URIs and never written in plain text.
func GenerateConfigYAML(result initResult) string {
	var sb strings.Builder
	sb.WriteString("# Viking configuration, generated by viking init.\n")
	sb.WriteString("# Every other setting uses its default; see viking doctor.\n\n")

	sb.WriteString("networking:\n")
	sb.WriteString("  listen: \"127.0.0.1:1933\"\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: sqlite\n\n")

	sb.WriteString("embedding:\n")
	sb.WriteString(fmt.Sprintf("  provider: %s\n", result.Embedding))
	sb.WriteString(fmt.Sprintf("  dimensions: %d\n\n", embeddingDimensions[result.Embedding]))

	sb.WriteString("summary:\n")
	sb.WriteString(fmt.Sprintf("  provider: %s\n", result.Summary))

	if hosted := result.hosted(); len(hosted) > 0 {
		sb.WriteString("\nproviders:\n")
		for _, name := range hosted {
			sb.WriteString(fmt.Sprintf("  %s:\n", name))
			sb.WriteString(fmt.Sprintf("    api_key: \"%s\"\n", keyRef(name)))
		}
	}

	return sb.String()
}

// storeSecretsAndWriteConfig saves the entered keys to the secret store and
// writes the config YAML to the default config path.
//
// An existing config is only replaced when forceOverwrite is set or when it
// is still the untouched default written on first run.
func storeSecretsAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	if !forceOverwrite {
		existing, readErr := os.ReadFile(cfgPath)
		if readErr == nil && !bytes.Equal(existing, config.DefaultConfigYAML) {
			return "", vikingerr.Errorf(vikingerr.CodeConfigWriteConflict,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	// Keys already stored are not rolled back when the write below fails;
	// a successful re-run overwrites them.
	for _, name := range result.hosted() {
		key := result.Keys[name]
		if key == "" {
			return "", vikingerr.Errorf(vikingerr.CodeCLIInputInvalid, "no API key entered for %s", name)
		}
		if err := store.Store(secrets.DefaultService, string(name)+"-api-key", key); err != nil {
			return "", vikingerr.Wrapf(err, vikingerr.CodeSecretBackendFailure, "storing %s API key", name)
		}
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", vikingerr.Errorf(vikingerr.CodeConfigWriteFailure, "creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateConfigYAML(result)), 0o600); err != nil {
		return "", vikingerr.Errorf(vikingerr.CodeConfigWriteFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns the path init writes to. Tests override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard for Viking",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Choosing an embedding backend (hash, OpenAI, Google)
  2. Choosing how abstracts are written (extractive, none, or a hosted model)
  3. Entering the API keys the choices need

API keys are stored in the OS keyring and referenced via keyring:// URIs in
the config file. No secrets are written in plain text.

After completion, run:
  viking serve    to start the server
  viking doctor   to verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	cmd.Flags().Bool("skip-validation", false, "store API keys without checking them against the provider")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"viking init requires an interactive terminal.\n"+
				"To configure Viking non-interactively, edit ~/.config/viking/viking.yaml directly.")
		return vikingerr.New(vikingerr.CodeCLISetupFailure, "viking init: not an interactive terminal")
	}

	m := newInitModel(secretStoreFactory())
	m.forceOverwrite, _ = cmd.Flags().GetBool("force")
	m.skipValidation, _ = cmd.Flags().GetBool("skip-validation")

	finalModel, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return vikingerr.New(vikingerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}
	if fm.errFinal != nil {
		return vikingerr.Wrap(fm.errFinal, vikingerr.CodeCLISetupFailure, "init failed")
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", fm.configPath)
	}
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
