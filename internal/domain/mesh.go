package domain

import "fmt"

// Location is the mesh element a data variable is defined on.
type Location string

const (
	LocationNode Location = "node"
	LocationFace Location = "face"
	LocationEdge Location = "edge"
)

// ParseLocation validates a UGRID location attribute value.
func ParseLocation(s string) (Location, error) {
	switch Location(s) {
	case LocationNode, LocationFace, LocationEdge:
		return Location(s), nil
	default:
		return "", fmt.Errorf("unknown mesh location %q", s)
	}
}

// Coordinates holds parallel longitude and latitude arrays in degrees.
type Coordinates struct {
	Lon []float64
	Lat []float64
}

// Len returns the number of points.
func (c Coordinates) Len() int { return len(c.Lon) }

// Subset returns the points at idx, in idx order.
func (c Coordinates) Subset(idx []int) Coordinates {
	out := Coordinates{
		Lon: make([]float64, len(idx)),
		Lat: make([]float64, len(idx)),
	}
	for k, i := range idx {
		out.Lon[k] = c.Lon[i]
		out.Lat[k] = c.Lat[i]
	}
	return out
}

// MeshTopology is the subset of a UGRID mesh needed to place harmonic data.
// Faces and Edges are empty when the mesh does not define them.
type MeshTopology struct {
	Name  string
	Nodes Coordinates
	Faces Coordinates
	Edges Coordinates
}

// CoordinatesFor returns the coordinate set matching a data location.
func (m MeshTopology) CoordinatesFor(loc Location) (Coordinates, error) {
	var c Coordinates
	switch loc {
	case LocationNode:
		c = m.Nodes
	case LocationFace:
		c = m.Faces
	case LocationEdge:
		c = m.Edges
	default:
		return Coordinates{}, fmt.Errorf("unknown mesh location %q", loc)
	}
	if c.Len() == 0 {
		return Coordinates{}, fmt.Errorf("mesh %s has no %s coordinates", m.Name, loc)
	}
	return c, nil
}

// LocationDim names the location dimension of a mesh, e.g. "adcirc_mesh_num_node".
func LocationDim(mesh string, loc Location) string {
	return fmt.Sprintf("%s_num_%s", mesh, loc)
}
