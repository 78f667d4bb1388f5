package pointcloud

import (
	"bytes"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeColoredCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Set(NewVector(-1, -2, 5), NewColoredData(color.NRGBA{255, 1, 2, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(582, 12, 0), NewColoredData(color.NRGBA{255, 1, 2, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(7, 6, 1), NewColoredData(color.NRGBA{255, 1, 2, 255})), test.ShouldBeNil)
	return pc
}

func TestPCDAscii(t *testing.T) {
	cloud := makeColoredCloud(t)

	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDAscii), test.ShouldBeNil)

	gotPCD := buf.String()
	test.That(t, gotPCD, test.ShouldContainSubstring, "WIDTH 3\n")
	test.That(t, gotPCD, test.ShouldContainSubstring, "HEIGHT 1\n")
	test.That(t, gotPCD, test.ShouldContainSubstring, "POINTS 3\n")
	test.That(t, gotPCD, test.ShouldContainSubstring, "DATA ascii\n")
	test.That(t, gotPCD, test.ShouldContainSubstring, "-1.000000 -2.000000 5.000000 16711938\n")
	test.That(t, gotPCD, test.ShouldContainSubstring, "582.000000 12.000000 0.000000 16711938\n")

	cloud2, err := ReadPCD(strings.NewReader(gotPCD))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud2.Size(), test.ShouldEqual, 3)
	data, ok := cloud2.At(7, 6, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, data.Color(), test.ShouldResemble, color.NRGBA{255, 1, 2, 255})
}

func TestPCDBinary(t *testing.T) {
	cloud := makeColoredCloud(t)

	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDBinary), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "DATA binary\n")

	cloud2, err := ReadPCD(bytes.NewReader(buf.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud2.Size(), test.ShouldEqual, 3)
	test.That(t, cloud2.MetaData().HasColor, test.ShouldBeTrue)
	data, ok := cloud2.At(-1, -2, 5)
	test.That(t, ok, test.ShouldBeTrue)
	r, g, b := data.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{255, 1, 2})
}

func TestPCDNoColor(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(0.5, 0.25, 2), NewBasicData()), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDBinary), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "FIELDS x y z\n")

	back, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CloudToVectors(back), test.ShouldResemble, []r3.Vector{{X: 0.5, Y: 0.25, Z: 2}})
	test.That(t, back.MetaData().HasColor, test.ShouldBeFalse)
}

func TestPCDFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.pcd")
	cloud := makeColoredCloud(t)
	test.That(t, WriteToPCDFile(cloud, fn, PCDBinary), test.ShouldBeNil)

	back, err := NewFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Size(), test.ShouldEqual, 3)

	_, err = NewFromFile(filepath.Join(t.TempDir(), "cloud.las"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to read")
}

func TestPCDHeaderErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header string
	}{
		{"version", "VERSION .8\n"},
		{"fields", "VERSION .7\nFIELDS x y\n"},
		{"order", "VERSION .7\nSIZE 4 4 4\n"},
		{
			"points",
			"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\n" +
				"VIEWPOINT 0 0 0 1 0 0 0\nPOINTS 3\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPCD(strings.NewReader(tc.header))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}

	_, err := ParsePCDType("compressed")
	test.That(t, err, test.ShouldNotBeNil)
	typ, err := ParsePCDType("ascii")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, typ, test.ShouldEqual, PCDAscii)
}
