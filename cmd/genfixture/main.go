// Command genfixture writes a synthetic UTIDES source dataset, useful for
// trying out tidecache and the query endpoints without real model output.
//
// Usage:
//
//	go run ./cmd/genfixture -out testdata/bay.nc -ntides 8 -nlocs 500 -transpose
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/source/sourcetest"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output NetCDF path")
	ntides := flag.Int("ntides", 4, "number of constituents")
	nlocs := flag.Int("nlocs", 12, "number of mesh locations")
	transpose := flag.Bool("transpose", false, "store harmonic arrays as (nlocs, ntides)")
	location := flag.String("location", string(domain.LocationNode), "mesh location: node or face")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	loc, err := domain.ParseLocation(*location)
	if err != nil {
		return err
	}
	if *ntides < 1 || *nlocs < 1 {
		return fmt.Errorf("ntides and nlocs must be positive")
	}

	fx, err := sourcetest.Write(*out, sourcetest.Options{
		NTides:          *ntides,
		NLocs:           *nlocs,
		Transposed:      *transpose,
		Location:        loc,
		FaceCoordinates: loc == domain.LocationFace,
	})
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s: %d constituents %v at %d %ss, harmonic dims %v\n",
		fx.Path, len(fx.Names), fx.Names, fx.Coordinates.Len(), fx.Location, fx.HarmonicDims)
	return nil
}
