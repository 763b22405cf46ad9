// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Fos938/lead-generator/internal/config"
)

func TestMain(m *testing.M) {
	// Reset global variables before running tests
	configPath = ""
	researchIndustry = ""
	researchLocation = ""
	researchCriteria = ""
	researchCount = 0
	researchOutDir = ""
	historyLimit = 0

	code := m.Run()
	os.Exit(code)
}

func resetFlags() {
	configPath = ""
	researchIndustry = ""
	researchLocation = ""
	researchCriteria = ""
	researchCount = 0
	researchOutDir = ""
}

// Test command-line argument parsing
func TestResearchArgumentParsing(t *testing.T) {
	tests := []struct {
		name             string
		args             []string
		expectedError    bool
		expectedIndustry string
		expectedLocation string
		expectedCount    int
		expectedOutDir   string
	}{
		{
			name:             "Default values",
			args:             []string{},
			expectedError:    false,
			expectedIndustry: "",
			expectedLocation: "",
			expectedCount:    0,
			expectedOutDir:   "",
		},
		{
			name:             "Custom values with short flags",
			args:             []string{"-i", "med spas", "-l", "Austin, TX", "-n", "5", "-o", "/tmp/exports"},
			expectedError:    false,
			expectedIndustry: "med spas",
			expectedLocation: "Austin, TX",
			expectedCount:    5,
			expectedOutDir:   "/tmp/exports",
		},
		{
			name: "Custom values with long flags",
			args: []string{
				"--industry", "law firms",
				"--location", "Denver, CO",
				"--count", "8",
				"--output-dir", "./out",
			},
			expectedError:    false,
			expectedIndustry: "law firms",
			expectedLocation: "Denver, CO",
			expectedCount:    8,
			expectedOutDir:   "./out",
		},
		{
			name:          "Invalid count",
			args:          []string{"--count", "invalid"},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()

			// Create a new command for each test
			cmd := &cobra.Command{
				Use:   "research",
				Short: "Run the research and qualification pipeline once",
				RunE: func(_ *cobra.Command, _ []string) error {
					// Don't actually run the command, just parse the flags
					return nil
				},
			}

			cmd.Flags().StringVarP(&researchIndustry, "industry", "i", "", "Industry to research")
			cmd.Flags().StringVarP(&researchLocation, "location", "l", "", "Location to search in")
			cmd.Flags().StringVar(&researchCriteria, "criteria", "", "Qualification criteria")
			cmd.Flags().IntVarP(&researchCount, "count", "n", 0, "Number of leads to research (3-10)")
			cmd.Flags().StringVarP(&researchOutDir, "output-dir", "o", "", "Directory for the spreadsheet")

			cmd.SetArgs(tt.args)
			err := cmd.Execute()

			if tt.expectedError {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.expectedIndustry, researchIndustry)
			assert.Equal(t, tt.expectedLocation, researchLocation)
			assert.Equal(t, tt.expectedCount, researchCount)
			assert.Equal(t, tt.expectedOutDir, researchOutDir)
		})
	}
}

// Test configuration loading
func TestConfigurationLoading(t *testing.T) {
	// Neutralize environment overrides so the file content decides
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("TOGETHER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	tempDir := t.TempDir()

	configContent := `
inference:
  apikey: test-api-key
search:
  industry: med spas
`
	configFile := filepath.Join(tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0600)
	require.NoError(t, err)

	noKeyContent := `
search:
  industry: med spas
`
	noKeyFile := filepath.Join(tempDir, "nokey.yaml")
	err = os.WriteFile(noKeyFile, []byte(noKeyContent), 0600)
	require.NoError(t, err)

	tests := []struct {
		name          string
		configPath    string
		expectedError bool
	}{
		{
			name:          "Valid config file",
			configPath:    configFile,
			expectedError: false,
		},
		{
			name:          "Missing API key fails validation",
			configPath:    noKeyFile,
			expectedError: true,
		},
		{
			name:          "Non-existent config file",
			configPath:    filepath.Join(tempDir, "missing.yaml"),
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(tt.configPath)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			assert.NoError(t, err)
			require.NotNil(t, cfg)
			assert.Equal(t, "test-api-key", cfg.Inference.APIKey)
			assert.Equal(t, "med spas", cfg.Search.Industry)
			// Unset keys keep their defaults
			assert.Equal(t, "https://api.together.xyz/v1", cfg.Inference.Endpoint)
			assert.Equal(t, "Buckhead, Atlanta, GA", cfg.Search.Location)
		})
	}
}

func TestGenerationOptions(t *testing.T) {
	cfg := &config.Config{
		Generation: config.GenerationConfig{
			ResearchTemperature: 0.3,
			ResearchMaxTokens:   1500,
			OutreachTemperature: 0.9,
			OutreachMaxTokens:   400,
		},
		Profile: config.ProfileConfig{
			Services:       "Premium commercial cleaning",
			Locations:      "Atlanta metro",
			TargetAccounts: "Medical and dental offices",
		},
	}

	opts := generationOptions(cfg)

	assert.InDelta(t, 0.3, opts.ResearchTemperature, 0.001)
	assert.Equal(t, 1500, opts.ResearchMaxTokens)
	assert.InDelta(t, 0.9, opts.OutreachTemperature, 0.001)
	assert.Equal(t, 400, opts.OutreachMaxTokens)
	assert.Equal(t, "Premium commercial cleaning", opts.Profile.Services)
	assert.Equal(t, "Atlanta metro", opts.Profile.Locations)
	assert.Equal(t, "Medical and dental offices", opts.Profile.TargetAccounts)
}

func TestInitializeLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		debugOn bool
		infoOn  bool
	}{
		{name: "Debug json", level: "debug", format: "json", debugOn: true, infoOn: true},
		{name: "Info text", level: "info", format: "text", debugOn: false, infoOn: true},
		{name: "Error json", level: "error", format: "json", debugOn: false, infoOn: false},
		{name: "Unknown level falls back to info", level: "verbose", format: "json", debugOn: false, infoOn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Logging: config.LoggingConfig{
					Level:  tt.level,
					Format: tt.format,
					Output: "stdout",
				},
			}

			logger, err := initializeLogger(cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			assert.Equal(t, tt.debugOn, logger.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.infoOn, logger.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestVersionDefault(t *testing.T) {
	assert.Equal(t, "dev", Version)
}
