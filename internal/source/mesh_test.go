package source_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/source"
	"github.com/couchcryptid/tidal-current-service/internal/source/sourcetest"
)

func TestLoadLocation_Node(t *testing.T) {
	fx := writeFixture(t, sourcetest.Options{NLocs: 15})
	ds, err := source.Open(fx.Path)
	require.NoError(t, err)
	defer ds.Close()

	topo, loc, coords, err := source.LoadLocation(ds, "u_amp")
	require.NoError(t, err)
	assert.Equal(t, "adcirc_mesh", topo.Name)
	assert.Equal(t, domain.LocationNode, loc)
	assert.Equal(t, fx.Coordinates, coords)
	assert.Zero(t, topo.Faces.Len())
}

func TestLoadLocation_FaceFromConnectivity(t *testing.T) {
	fx := writeFixture(t, sourcetest.Options{NLocs: 6, Location: domain.LocationFace})
	ds, err := source.Open(fx.Path)
	require.NoError(t, err)
	defer ds.Close()

	topo, loc, coords, err := source.LoadLocation(ds, "v_phase")
	require.NoError(t, err)
	assert.Equal(t, domain.LocationFace, loc)
	assert.Equal(t, 8, topo.Nodes.Len())
	require.Equal(t, 6, coords.Len())
	for i := range coords.Len() {
		assert.InDelta(t, fx.Coordinates.Lon[i], coords.Lon[i], 1e-12)
		assert.InDelta(t, fx.Coordinates.Lat[i], coords.Lat[i], 1e-12)
	}
}

func TestLoadLocation_FaceCoordinatesSwapped(t *testing.T) {
	fx := writeFixture(t, sourcetest.Options{NLocs: 4, Location: domain.LocationFace, FaceCoordinates: true})
	ds, err := source.Open(fx.Path)
	require.NoError(t, err)
	defer ds.Close()

	_, _, coords, err := source.LoadLocation(ds, "u_amp")
	require.NoError(t, err)
	assert.Equal(t, fx.Coordinates, coords, "longitude detected by units despite attribute order")
}

func TestLoadMesh_Unknown(t *testing.T) {
	fx := writeFixture(t, sourcetest.Options{})
	ds, err := source.Open(fx.Path)
	require.NoError(t, err)
	defer ds.Close()

	_, err = source.LoadMesh(ds, "fvcom_mesh")
	var fe *domain.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestVariableLocation_NoMeshAttribute(t *testing.T) {
	fx := writeFixture(t, sourcetest.Options{})
	ds, err := source.Open(fx.Path)
	require.NoError(t, err)
	defer ds.Close()

	_, _, err = source.VariableLocation(ds, "tidefreqs")
	var fe *domain.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "no mesh attribute")
}
