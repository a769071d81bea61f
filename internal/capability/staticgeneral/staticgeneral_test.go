package staticgeneral_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability/staticgeneral"
)

func TestLoadDefaults_ReturnsConstructedDefaults(t *testing.T) {
	c := staticgeneral.New(map[string]interface{}{"schema_version": 1})

	defaults, err := c.LoadDefaults(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, defaults["schema_version"])
}

func TestSetupAdapter_Noop(t *testing.T) {
	c := staticgeneral.New(nil)
	assert.NoError(t, c.SetupAdapter(context.Background()))
}

func TestGetVersion_NonEmpty(t *testing.T) {
	c := staticgeneral.New(nil)
	assert.NotEmpty(t, c.GetVersion())
}
