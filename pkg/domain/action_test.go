package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstallVerb(t *testing.T) {
	tests := []struct {
		kind       Kind
		hasCommand bool
		want       Verb
	}{
		{KindNamespace, true, VerbApply},
		{KindPackageRelease, true, VerbInstall},
		{KindManifestSet, true, VerbApply},
		{KindBuildArtifact, true, VerbBuild},
		{KindSecret, true, VerbCreateSecret},
		{KindPackageRelease, false, VerbWait},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, InstallVerb(tt.kind, tt.hasCommand))
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	assert.Equal(t, ShortActionTimeout, Action{Verb: VerbApply}.EffectiveTimeout())
	assert.Equal(t, LongActionTimeout, Action{Verb: VerbInstall}.EffectiveTimeout())
	assert.Equal(t, LongActionTimeout, Action{Verb: VerbWait}.EffectiveTimeout())
	assert.Equal(t, 7*time.Second, Action{Verb: VerbInstall, Timeout: 7 * time.Second}.EffectiveTimeout())
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindSecret.Valid())
	assert.False(t, Kind("deployment").Valid())
}
