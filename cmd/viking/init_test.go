// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/config"
	"github.com/viking-dev/viking/internal/provider"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// --- Config generation tests ---

func TestGenerateConfigYAML(t *testing.T) {
	tests := []struct {
		name    string
		result  initResult
		checks  []string
		missing []string
	}{
		{
			name:    "local only",
			result:  initResult{Embedding: "hash", Summary: "extractive"},
			checks:  []string{"provider: hash", "dimensions: 256", "provider: extractive"},
			missing: []string{"providers:", "keyring://"},
		},
		{
			name: "openai for both",
			result: initResult{
				Embedding: "openai",
				Summary:   "openai",
				Keys:      map[provider.Name]string{provider.OpenAI: "sk-openai"},
			},
			checks: []string{"dimensions: 1536", "keyring://viking/openai-api-key"},
		},
		{
			name: "google embeddings with anthropic abstracts",
			result: initResult{
				Embedding: "google",
				Summary:   "anthropic",
				Keys: map[provider.Name]string{
					provider.Google:    "AIza-test",
					provider.Anthropic: "sk-ant-test",
				},
			},
			checks: []string{
				"dimensions: 768",
				"keyring://viking/google-api-key",
				"keyring://viking/anthropic-api-key",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := GenerateConfigYAML(tt.result)
			for _, check := range tt.checks {
				assert.Contains(t, yaml, check)
			}
			for _, m := range tt.missing {
				assert.NotContains(t, yaml, m)
			}
			for _, key := range tt.result.Keys {
				assert.NotContains(t, yaml, key, "plain-text API key must not appear in YAML")
			}
		})
	}
}

func TestGenerateConfigYAML_Loads(t *testing.T) {
	for _, result := range []initResult{
		{Embedding: "hash", Summary: "none"},
		{Embedding: "openai", Summary: "openrouter"},
	} {
		t.Run(result.Embedding+"/"+result.Summary, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "viking.yaml")
			require.NoError(t, os.WriteFile(path, []byte(GenerateConfigYAML(result)), 0o600))

			cfg, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, result.Embedding, cfg.Embedding.Provider)
			assert.Equal(t, result.Summary, cfg.Summary.Provider)
			assert.Equal(t, embeddingDimensions[result.Embedding], cfg.Embedding.Dimensions)
		})
	}
}

func TestInitResult_HostedDeduplicates(t *testing.T) {
	assert.Empty(t, initResult{Embedding: "hash", Summary: "extractive"}.hosted())
	assert.Equal(t, []provider.Name{provider.OpenAI}, initResult{Embedding: "openai", Summary: "openai"}.hosted())
	assert.Equal(t,
		[]provider.Name{provider.Google, provider.OpenRouter},
		initResult{Embedding: "google", Summary: "openrouter"}.hosted())
}

// --- bubbletea model state transition tests ---

func TestInitModel_EmbeddingSelection(t *testing.T) {
	m := newInitModel(nil)
	assert.Equal(t, stepEmbedding, m.step)
	assert.Equal(t, 0, m.embeddingIdx)

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m3, _ := m2.(initModel).Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m3.(initModel).embeddingIdx)

	// Can't go below max.
	m4, _ := m3.(initModel).Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, len(embeddingChoices)-1, m4.(initModel).embeddingIdx)

	m5, _ := m4.(initModel).Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m5.(initModel).embeddingIdx)

	// Can't go above 0.
	m6, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m6.(initModel).embeddingIdx)
}

func TestInitModel_SelectEmbedding_TransitionsToSummary(t *testing.T) {
	m := newInitModel(nil)
	m.embeddingIdx = 1 // openai

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepSummary, result.step)
	assert.Equal(t, "openai", result.result.Embedding)
}

func TestInitModel_SelectSummary_AsksForPendingKeys(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepSummary
	m.result.Embedding = "openai"
	m.summaryIdx = 2 // anthropic

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepAPIKey, result.step)
	assert.Equal(t, []provider.Name{provider.OpenAI, provider.Anthropic}, result.pending)
	assert.NotNil(t, cmd)
	assert.Contains(t, result.View(), "openai API key")
}

func TestInitModel_LocalChoices_SkipKeys(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepSummary
	m.result.Embedding = "hash"
	m.summaryIdx = 0 // extractive

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepWriting, result.step)
	assert.Empty(t, result.pending)
	assert.NotNil(t, cmd, "config write should be scheduled")
}

func TestInitModel_QuitDuringSelection(t *testing.T) {
	m := newInitModel(nil)
	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.Equal(t, stepEmbedding, m2.(initModel).step)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestInitModel_EmptyAPIKey_ShowsError(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepAPIKey
	m.pending = []provider.Name{provider.Anthropic}

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepAPIKey, result.step)
	assert.NotEmpty(t, result.validationErr)
}

func TestInitModel_EnterKey_StartsValidation(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepAPIKey
	m.pending = []provider.Name{provider.Google}
	m.apiKeyInput.SetValue("  AIza-test  ")

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepValidateKey, result.step)
	assert.Equal(t, "AIza-test", result.result.Keys[provider.Google])
	assert.NotNil(t, cmd)
}

func TestInitModel_SkipValidation_MovesToNextKey(t *testing.T) {
	m := newInitModel(nil)
	m.skipValidation = true
	m.step = stepAPIKey
	m.pending = []provider.Name{provider.OpenAI, provider.Anthropic}
	m.apiKeyInput.SetValue("sk-openai")

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepAPIKey, result.step)
	assert.Equal(t, []provider.Name{provider.Anthropic}, result.pending)
	assert.Empty(t, result.apiKeyInput.Value(), "input should be cleared for the next key")
}

func TestInitModel_ValidationSuccess_WritesWhenDone(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepValidateKey
	m.pending = []provider.Name{provider.OpenAI}
	m.result.Keys[provider.OpenAI] = "sk-openai"

	m2, cmd := m.Update(validationSuccessMsg{provider: provider.OpenAI})
	result := m2.(initModel)
	assert.Equal(t, stepWriting, result.step)
	assert.Empty(t, result.pending)
	assert.NotNil(t, cmd)
	assert.Contains(t, result.View(), "Writing configuration")
}

func TestInitModel_ValidationError_ResetsToInput(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepValidateKey
	m.pending = []provider.Name{provider.Anthropic}
	m.result.Keys[provider.Anthropic] = "sk-bad"

	m2, _ := m.Update(validationErrorMsg{
		provider: provider.Anthropic,
		err:      vikingerr.New(vikingerr.CodeProviderKeyInvalid, "bad key"),
	})
	result := m2.(initModel)
	assert.Equal(t, stepAPIKey, result.step)
	assert.Contains(t, result.validationErr, "bad key")
	assert.NotContains(t, result.result.Keys, provider.Anthropic)
	assert.Equal(t, []provider.Name{provider.Anthropic}, result.pending)
}

func TestValidateProviderKeyCmd(t *testing.T) {
	orig := validateProviderKey
	t.Cleanup(func() { validateProviderKey = orig })

	validateProviderKey = func(_ context.Context, _ provider.Name, key string) error {
		if key == "good" {
			return nil
		}
		return vikingerr.New(vikingerr.CodeProviderKeyInvalid, "rejected")
	}

	assert.Equal(t, validationSuccessMsg{provider: provider.OpenAI}, validateProviderKeyCmd(provider.OpenAI, "good")())

	msg, ok := validateProviderKeyCmd(provider.OpenAI, "bad")().(validationErrorMsg)
	require.True(t, ok)
	assert.Equal(t, provider.OpenAI, msg.provider)
	assert.Contains(t, msg.err.Error(), "rejected")
}

func TestInitModel_ConfigWritten_TransitionsToDone(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepWriting

	m2, _ := m.Update(configWrittenMsg{path: "/tmp/viking.yaml"})
	fm := m2.(initModel)
	assert.Equal(t, stepDone, fm.step)
	assert.Equal(t, "/tmp/viking.yaml", fm.configPath)
}

func TestInitModel_WriteError_TransitionsToError(t *testing.T) {
	m := newInitModel(nil)
	m.step = stepWriting

	m2, _ := m.Update(vikingerr.New(vikingerr.CodeConfigWriteFailure, "disk full"))
	fm := m2.(initModel)
	assert.Equal(t, stepError, fm.step)
	assert.Contains(t, fm.View(), "disk full")
}

func TestInitModel_View_ContainsExpectedContent(t *testing.T) {
	tests := []struct {
		name string
		step initWizardStep
		want []string
	}{
		{
			name: "embedding step",
			step: stepEmbedding,
			want: []string{"Step 1/3", "hash", "openai", "google"},
		},
		{
			name: "summary step",
			step: stepSummary,
			want: []string{"Step 2/3", "extractive", "none", "anthropic", "openrouter"},
		},
		{
			name: "done step",
			step: stepDone,
			want: []string{"Setup complete", "viking serve", "viking add", "viking doctor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newInitModel(nil)
			m.step = tt.step
			view := m.View()
			for _, w := range tt.want {
				assert.Contains(t, view, w)
			}
		})
	}
}

// --- Config overwrite detection ---

func withConfigPath(t *testing.T) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "viking", "viking.yaml")
	orig := configPathForWrite
	configPathForWrite = func() (string, error) { return cfgPath, nil }
	t.Cleanup(func() { configPathForWrite = orig })
	return cfgPath
}

func TestStoreSecretsAndWriteConfig_OverwriteProtection(t *testing.T) {
	cfgPath := withConfigPath(t)
	store := mapSecrets{}
	result := initResult{
		Embedding: "openai",
		Summary:   "anthropic",
		Keys: map[provider.Name]string{
			provider.OpenAI:    "sk-openai",
			provider.Anthropic: "sk-ant",
		},
	}

	path, err := storeSecretsAndWriteConfig(result, store, false)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, path)
	assert.Equal(t, "sk-openai", store["viking/openai-api-key"])
	assert.Equal(t, "sk-ant", store["viking/anthropic-api-key"])

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Second write without force should fail.
	_, err = storeSecretsAndWriteConfig(result, store, false)
	require.Error(t, err)
	assert.True(t, vikingerr.HasCode(err, vikingerr.CodeConfigWriteConflict))
	assert.Contains(t, err.Error(), "--force")

	// With force it succeeds.
	_, err = storeSecretsAndWriteConfig(result, store, true)
	require.NoError(t, err)
}

func TestStoreSecretsAndWriteConfig_ReplacesBootstrapDefault(t *testing.T) {
	cfgPath := withConfigPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o700))
	require.NoError(t, os.WriteFile(cfgPath, config.DefaultConfigYAML, 0o600))

	_, err := storeSecretsAndWriteConfig(initResult{Embedding: "hash", Summary: "none"}, nil, false)
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "generated by viking init")
}

func TestStoreSecretsAndWriteConfig_MissingKey(t *testing.T) {
	withConfigPath(t)

	_, err := storeSecretsAndWriteConfig(initResult{Embedding: "openai", Summary: "none"}, mapSecrets{}, false)
	require.Error(t, err)
	assert.True(t, vikingerr.HasCode(err, vikingerr.CodeCLIInputInvalid))
}

func TestInitCmd_RequiresTerminal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	root.SetIn(new(bytes.Buffer))
	root.SetOut(new(bytes.Buffer))
	stderr := new(bytes.Buffer)
	root.SetErr(stderr)
	root.SetArgs([]string{"init"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "requires an interactive terminal")
	assert.Contains(t, err.Error(), "not an interactive terminal")
}
