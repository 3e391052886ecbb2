package geocoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveExactMatch(t *testing.T) {
	g := New()
	p, ok := g.Resolve("Paris", "France", "Europe")
	assert.True(t, ok)
	assert.InDelta(t, 48.8566, p.Lat, 0.001)
}

func TestResolveMostPopulousCityByName(t *testing.T) {
	g := New()
	// "City" not paired with a known country should still resolve to the
	// most populous gazetteer entry with that name.
	p, ok := g.Resolve("Tokyo", "Nowhereland", "")
	assert.True(t, ok)
	assert.InDelta(t, 35.6762, p.Lat, 0.001)
}

func TestResolveFallsBackToCapital(t *testing.T) {
	g := New()
	p, ok := g.Resolve("Some Unknown Town", "Switzerland", "Europe")
	assert.True(t, ok)
	assert.InDelta(t, 46.9480, p.Lat, 0.001) // Bern, the capital
}

func TestResolveFallsBackToContinentCentroid(t *testing.T) {
	g := New()
	p, ok := g.Resolve("Nowhere", "Nowhereland", "Africa")
	assert.True(t, ok)
	assert.InDelta(t, 7.1881, p.Lat, 0.001)
}

func TestResolveUnresolved(t *testing.T) {
	g := New()
	_, ok := g.Resolve("", "", "")
	assert.False(t, ok)
}

func TestResolveIsCached(t *testing.T) {
	g := New()
	p1, _ := g.Resolve("Paris", "France", "Europe")
	p2, ok := g.Resolve("Paris", "France", "Europe")
	assert.True(t, ok)
	assert.Equal(t, p1, p2)
}
