package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/model"
)

func validProvider(name string) model.ProviderConfig {
	return model.ProviderConfig{Name: name, ProviderKind: "http", ModelID: "m-1", AuthSpec: "env:TOKEN"}
}

func TestConfigValidateRequiresAtLeastOneProvider(t *testing.T) {
	cfg := Config{Profile: builtinDefaults()}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsDuplicateProviderNames(t *testing.T) {
	cfg := Config{
		Providers: []model.ProviderConfig{validProvider("a"), validProvider("a")},
		Profile:   builtinDefaults(),
	}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Config{
		Providers: []model.ProviderConfig{validProvider("a"), validProvider("b")},
		Profile:   builtinDefaults(),
	}
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateRejectsProfileReferencingUnknownProvider(t *testing.T) {
	cfg := Config{
		Providers: []model.ProviderConfig{validProvider("a")},
		Profile:   builtinDefaults(),
	}
	cfg.Profile.Weights = map[string]float64{"nonexistent": 1.0}
	assert.Error(t, cfg.Validate())
}
