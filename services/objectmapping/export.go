package objectmapping

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"

	"go.viam.com/objectmap/objectmap"
	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/utils"
)

// Export file names.
const (
	MapFileName  = "map.pcd"
	MeshFileName = "mesh.pcd"
)

// ObjectFileName is the name of the surface cloud exported for one object.
func ObjectFileName(id objectmap.ObjectID) string {
	return fmt.Sprintf("object_%d.pcd", id)
}

// ExportSummary describes what Export wrote.
type ExportSummary struct {
	Dir          string
	Objects      []objectmap.ObjectID
	Skipped      []objectmap.ObjectID
	MapPoints    int
	MeshVertices int
}

// objectColor gives each id a stable, well separated hue.
func objectColor(id objectmap.ObjectID) color.NRGBA {
	const goldenAngle = 137.50776405003785
	hue := math.Mod(float64(id)*goldenAngle, 360)
	r, g, b := colorful.Hsv(hue, 0.75, 0.95).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

type objectSurface struct {
	id     objectmap.ObjectID
	points []r3.Vector
}

// Export writes the surface of every object to its own PCD file, a map.pcd of the block centers
// of every object colored by id, and a mesh.pcd of the current mesh vertices. Background objects
// get no file of their own when identities are inferred. Files are written concurrently and one
// failed file does not stop the others.
func (s *Service) Export(ctx context.Context, dir string) (ExportSummary, error) {
	ctx, span := trace.StartSpan(ctx, "objectmapping::Export")
	defer span.End()
	start := s.clock.Now()
	defer func() { s.timings.record(StageExport, s.clock.Since(start)) }()

	summary := ExportSummary{Dir: dir}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return summary, errors.Wrapf(err, "creating export directory %q", dir)
	}
	format, err := pointcloud.ParsePCDType(s.conf.ExportFormat)
	if err != nil {
		return summary, err
	}

	var surfaces []objectSurface
	var mapPoints []r3.Vector
	var mapColors []color.NRGBA
	var meshPoints []r3.Vector
	var meshColors []color.NRGBA
	//nolint:errcheck
	s.mapper.ViewWithMesh(func(tx *objectmap.ReadTxn, mesh objectmap.MapMesh) error {
		for _, id := range sortedMeshIDs(mesh) {
			verts, colors := mesh[id].Vertices()
			meshPoints = append(meshPoints, verts...)
			meshColors = append(meshColors, colors...)
		}
		for _, id := range tx.IDs() {
			obj, _ := tx.Find(id)
			c := objectColor(id)
			for _, b := range tx.OwnedBlocks(id) {
				mapPoints = append(mapPoints, s.conf.Voxel.BlockCenter(b))
				mapColors = append(mapColors, c)
			}
			if !s.source.ProvidesIdentity() && obj.SemanticClass().IsBackground() {
				summary.Skipped = append(summary.Skipped, id)
				continue
			}
			surfaces = append(surfaces, objectSurface{id: id, points: obj.SubMap().SampleSurface()})
		}
		return nil
	})

	var mu sync.Mutex
	work := make([]utils.SimpleFunc, 0, len(surfaces)+2)
	for _, surf := range surfaces {
		surf := surf
		work = append(work, func(ctx context.Context) error {
			if err := writeCloud(filepath.Join(dir, ObjectFileName(surf.id)), surf.points, nil, format); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Objects = append(summary.Objects, surf.id)
			return nil
		})
	}
	work = append(work,
		func(ctx context.Context) error {
			if err := writeCloud(filepath.Join(dir, MapFileName), mapPoints, mapColors, format); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			summary.MapPoints = len(mapPoints)
			return nil
		},
		func(ctx context.Context) error {
			if err := writeCloud(filepath.Join(dir, MeshFileName), meshPoints, meshColors, format); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			summary.MeshVertices = len(meshPoints)
			return nil
		},
	)
	errs := utils.RunBounded(ctx, 0, work)
	sort.Slice(summary.Objects, func(i, j int) bool { return summary.Objects[i] < summary.Objects[j] })

	s.logger.Infow("exported map",
		"dir", dir,
		"objects", len(summary.Objects),
		"skipped", len(summary.Skipped),
		"map_points", summary.MapPoints,
		"mesh_vertices", summary.MeshVertices)
	return summary, errs
}

func sortedMeshIDs(mesh objectmap.MapMesh) []objectmap.ObjectID {
	ids := lo.Keys(mesh)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func writeCloud(fn string, pts []r3.Vector, colors []color.NRGBA, format pointcloud.PCDType) error {
	cloud, err := pointcloud.NewFromVectors(pts, colors)
	if err != nil {
		return errors.Wrapf(err, "building cloud for %q", fn)
	}
	if err := pointcloud.WriteToPCDFile(cloud, fn, format); err != nil {
		return errors.Wrapf(err, "writing %q", fn)
	}
	return nil
}
