package codecache

import (
	"testing"

	"github.com/dbtcore/rt/tiers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifact(tier tiers.Tier) *tiers.Artifact {
	return &tiers.Artifact{Tier: tier}
}

func TestLookup_MissReturnsNil(t *testing.T) {
	c := New()
	assert.Nil(t, c.Lookup(0x1000))
}

func TestInstall_ThenLookupHits(t *testing.T) {
	c := New()
	a := artifact(tiers.T1)
	c.Install(0x1000, a)
	got := c.Lookup(0x1000)
	require.NotNil(t, got)
	assert.Equal(t, tiers.T1, got.Tier)
}

func TestInstall_SupersedesAndRetiresPrior(t *testing.T) {
	c := New()
	t1 := artifact(tiers.T1)
	t2 := artifact(tiers.T2)

	c.Install(0x2000, t1)
	c.Install(0x2000, t2)

	got := c.Lookup(0x2000)
	assert.Equal(t, tiers.T2, got.Tier)
	assert.Equal(t, 1, c.PendingRetired())
}

func TestRetireDrain_FreesOnlyOlderEpochs(t *testing.T) {
	c := New()
	c.Install(0x3000, artifact(tiers.T1))
	installEpoch := c.CurrentEpoch()
	c.Install(0x3000, artifact(tiers.T2)) // retires T1 at installEpoch

	freed := c.RetireDrain(installEpoch)
	assert.Equal(t, 0, freed, "safepoint hasn't advanced past the install epoch yet")

	c.AdvanceEpoch()
	freed = c.RetireDrain(c.CurrentEpoch())
	assert.Equal(t, 1, freed)
	assert.Equal(t, 0, c.PendingRetired())
}

func TestLen_CountsDistinctPCs(t *testing.T) {
	c := New()
	c.Install(0x1000, artifact(tiers.T0))
	c.Install(0x2000, artifact(tiers.T0))
	c.Install(0x1000, artifact(tiers.T1))
	assert.Equal(t, 2, c.Len())
}
