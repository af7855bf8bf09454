package cli_test

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/snapclass/snapclass/cli"
)

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(path), 0o755), test.ShouldBeNil)
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, buf.Bytes(), 0o644), test.ShouldBeNil)
}

func labeledDataDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for i := 0; i < 4; i++ {
		writePNG(t, filepath.Join(root, "cats", fmt.Sprintf("%d.png", i)), color.RGBA{255, 0, 0, 255})
		writePNG(t, filepath.Join(root, "dogs", fmt.Sprintf("%d.png", i)), color.RGBA{0, 0, 255, 255})
	}
	return root
}

func TestClassifyCommand(t *testing.T) {
	root := labeledDataDir(t)
	query := filepath.Join(t.TempDir(), "query.png")
	writePNG(t, query, color.RGBA{250, 0, 0, 255})

	app := cli.NewApp(golog.NewTestLogger(t))
	var out bytes.Buffer
	app.Writer = &out

	err := app.Run([]string{"snapclass", "classify",
		"--data-dir", root,
		"--image", query,
		"--epochs", "5",
		"--seed", "1",
		"--min-score", "0.05",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "cats")
	test.That(t, out.String(), test.ShouldContainSubstring, "top:")
}

func TestClassifyCommandMinScoreFiltersAll(t *testing.T) {
	root := labeledDataDir(t)
	query := filepath.Join(t.TempDir(), "query.png")
	writePNG(t, query, color.RGBA{250, 0, 0, 255})

	app := cli.NewApp(golog.NewTestLogger(t))
	var out bytes.Buffer
	app.Writer = &out

	// a threshold above 1 filters every ranked row; the top label still prints
	err := app.Run([]string{"snapclass", "classify",
		"--data-dir", root,
		"--image", query,
		"--epochs", "2",
		"--seed", "1",
		"--min-score", "1.5",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "top:")
	test.That(t, out.String(), test.ShouldNotContainSubstring, "0.")
}

func TestLabelsCommand(t *testing.T) {
	root := labeledDataDir(t)

	app := cli.NewApp(golog.NewTestLogger(t))
	var out bytes.Buffer
	app.Writer = &out

	err := app.Run([]string{"snapclass", "labels", "--data-dir", root})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "cats")
	test.That(t, out.String(), test.ShouldContainSubstring, "dogs")
	test.That(t, out.String(), test.ShouldContainSubstring, "4")
}
