package source

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// LoadMesh reads the coordinates of a UGRID mesh topology variable. Face and
// edge coordinates come from the *_coordinates attributes when present and are
// otherwise derived from node connectivity as centroids and midpoints.
func LoadMesh(ds Dataset, mesh string) (domain.MeshTopology, error) {
	if !slices.Contains(ds.Variables(), mesh) {
		return domain.MeshTopology{}, domain.NewFormatError(ds.Path(), fmt.Sprintf("mesh variable %s not found", mesh), nil)
	}

	topo := domain.MeshTopology{Name: mesh}

	nodeAttr, ok := TextAttribute(ds, mesh, "node_coordinates")
	if !ok {
		return domain.MeshTopology{}, domain.NewFormatError(ds.Path(), fmt.Sprintf("mesh %s has no node_coordinates", mesh), nil)
	}
	nodes, err := readCoordinatePair(ds, nodeAttr)
	if err != nil {
		return domain.MeshTopology{}, err
	}
	topo.Nodes = nodes

	for _, el := range []struct {
		loc  domain.Location
		dst  *domain.Coordinates
		conn string
	}{
		{domain.LocationFace, &topo.Faces, "face_node_connectivity"},
		{domain.LocationEdge, &topo.Edges, "edge_node_connectivity"},
	} {
		if coordAttr, ok := TextAttribute(ds, mesh, string(el.loc)+"_coordinates"); ok {
			c, err := readCoordinatePair(ds, coordAttr)
			if err != nil {
				return domain.MeshTopology{}, err
			}
			*el.dst = c
			continue
		}
		if connVar, ok := TextAttribute(ds, mesh, el.conn); ok {
			c, err := centroids(ds, connVar, nodes)
			if err != nil {
				return domain.MeshTopology{}, err
			}
			*el.dst = c
		}
	}
	return topo, nil
}

// LoadLocation loads the mesh of data variable v and returns the coordinates
// paired with its location.
func LoadLocation(ds Dataset, v string) (domain.MeshTopology, domain.Location, domain.Coordinates, error) {
	mesh, loc, err := VariableLocation(ds, v)
	if err != nil {
		return domain.MeshTopology{}, "", domain.Coordinates{}, err
	}
	topo, err := LoadMesh(ds, mesh)
	if err != nil {
		return domain.MeshTopology{}, "", domain.Coordinates{}, err
	}
	coords, err := topo.CoordinatesFor(loc)
	if err != nil {
		return domain.MeshTopology{}, "", domain.Coordinates{}, domain.NewFormatError(ds.Path(), "mesh coordinates", err)
	}
	return topo, loc, coords, nil
}

// readCoordinatePair reads the two variables named in a UGRID coordinates
// attribute such as "mesh_node_x mesh_node_y".
func readCoordinatePair(ds Dataset, attr string) (domain.Coordinates, error) {
	names := strings.Fields(attr)
	if len(names) != 2 {
		return domain.Coordinates{}, domain.NewFormatError(ds.Path(), fmt.Sprintf("coordinates attribute %q does not name two variables", attr), nil)
	}
	lonVar, latVar := names[0], names[1]
	if isLatitude(ds, lonVar) || isLongitude(ds, latVar) {
		lonVar, latVar = latVar, lonVar
	}

	lon, err := ds.ReadSlab(lonVar, nil, nil)
	if err != nil {
		return domain.Coordinates{}, domain.NewFormatError(ds.Path(), "read longitude", err)
	}
	lat, err := ds.ReadSlab(latVar, nil, nil)
	if err != nil {
		return domain.Coordinates{}, domain.NewFormatError(ds.Path(), "read latitude", err)
	}
	if len(lon) != len(lat) {
		return domain.Coordinates{}, domain.NewFormatError(ds.Path(), fmt.Sprintf("%s and %s differ in length", lonVar, latVar), nil)
	}
	return domain.Coordinates{Lon: lon, Lat: lat}, nil
}

func isLongitude(ds Dataset, v string) bool {
	std, _ := TextAttribute(ds, v, "standard_name")
	units, _ := TextAttribute(ds, v, "units")
	return std == "longitude" || strings.HasPrefix(units, "degrees_east")
}

func isLatitude(ds Dataset, v string) bool {
	std, _ := TextAttribute(ds, v, "standard_name")
	units, _ := TextAttribute(ds, v, "units")
	return std == "latitude" || strings.HasPrefix(units, "degrees_north")
}

// centroids averages node positions over each row of a connectivity table.
// Fill values mark unused slots in rows of mixed element size.
func centroids(ds Dataset, connVar string, nodes domain.Coordinates) (domain.Coordinates, error) {
	shape := ds.Shape(connVar)
	if len(shape) != 2 {
		return domain.Coordinates{}, domain.NewFormatError(ds.Path(), fmt.Sprintf("connectivity %s has rank %d, want 2", connVar, len(shape)), nil)
	}
	conn, err := ds.ReadSlab(connVar, nil, nil)
	if err != nil {
		return domain.Coordinates{}, domain.NewFormatError(ds.Path(), "read connectivity", err)
	}

	start := 0.0
	if attr, ok := domain.FindAttribute(ds.Attributes(connVar), "start_index"); ok {
		start, _ = attr.Float()
	}
	fill, hasFill := FillValue(ds, connVar)

	n, k := shape[0], shape[1]
	out := domain.Coordinates{Lon: make([]float64, n), Lat: make([]float64, n)}
	for i := range n {
		var sumLon, sumLat float64
		var count int
		for _, raw := range conn[i*k : (i+1)*k] {
			if math.IsNaN(raw) || (hasFill && raw == fill) || raw < 0 {
				continue
			}
			idx := int(raw - start)
			if idx < 0 || idx >= nodes.Len() {
				return domain.Coordinates{}, domain.NewFormatError(ds.Path(), fmt.Sprintf("connectivity %s row %d references node %d of %d", connVar, i, idx, nodes.Len()), nil)
			}
			sumLon += nodes.Lon[idx]
			sumLat += nodes.Lat[idx]
			count++
		}
		if count == 0 {
			out.Lon[i], out.Lat[i] = math.NaN(), math.NaN()
			continue
		}
		out.Lon[i] = sumLon / float64(count)
		out.Lat[i] = sumLat / float64(count)
	}
	return out, nil
}
