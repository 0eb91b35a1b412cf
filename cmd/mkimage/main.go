// Command mkimage builds the block-structured read-only image FS of spec §3
// and §6 from a host directory tree, in the spirit of the teacher's own
// tools/imageconvert asset converter (which this tool's splash-conversion
// path is directly adapted from). The output is a single flat file of
// 4 KiB blocks usable as the boot module a multiboot loader hands to the
// kernel.
package main

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/spf13/cobra"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"protokernel/internal/fsimage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mkimage:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		splashPath  string
		splashLabel string
		outPath     string
	)

	cmd := &cobra.Command{
		Use:   "mkimage <source-dir>",
		Short: "Build a kernel boot image from a host directory tree",
		Long: "mkimage walks a host directory (expected to contain prot/passwd and any\n" +
			"binaries the kernel should serve) and packs it into the block-structured\n" +
			"read-only image FS format described in the kernel specification.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := newBuilder()
			rootIdx, err := b.addDir(args[0])
			if err != nil {
				return fmt.Errorf("walking %s: %w", args[0], err)
			}

			if splashPath != "" {
				if err := b.addSplash(rootIdx, splashPath, splashLabel); err != nil {
					return fmt.Errorf("converting splash image: %w", err)
				}
			}

			b.promoteRoot(rootIdx)
			return b.writeTo(outPath)
		},
	}

	cmd.Flags().StringVar(&splashPath, "splash", "", "optional splash image (png/jpeg) to rasterize into /boot/splash.raw")
	cmd.Flags().StringVar(&splashLabel, "splash-label", "", "text label drawn over the splash image before conversion")
	cmd.Flags().StringVarP(&outPath, "output", "o", "image.bin", "output image file path")
	return cmd
}

// builder accumulates blocks into an fsimage.Image in whatever order the
// directory walk discovers them; promoteRoot fixes up the one invariant
// spec §3 requires ("the tree root is block zero") once every block has
// been appended.
type builder struct {
	img      fsimage.Image
	bootIdx  uint32
	haveBoot bool
}

func newBuilder() *builder {
	return &builder{}
}

// addDir recursively packs dir's contents into blocks (children before
// parent, since a directory block's entry list names its children's
// already-known indices), returning the index of dir's own directory block.
func (b *builder) addDir(dir string) (uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var children []uint32
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		var idx uint32
		if e.IsDir() {
			idx, err = b.addDir(full)
		} else {
			idx, err = b.addFile(full)
		}
		if err != nil {
			return 0, err
		}
		children = append(children, idx)
	}

	block := fsimage.EncodeListBlock(fsimage.MagicDir, filepath.Base(dir), children)
	idx := b.img.Append(block)
	if filepath.Base(dir) == "boot" {
		b.bootIdx = idx
		b.haveBoot = true
	}
	return idx, nil
}

// addFile packs one regular file into a file-entry block plus as many data
// blocks as its content requires.
func (b *builder) addFile(path string) (uint32, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var dataIdx []uint32
	for _, blk := range fsimage.EncodeDataBlocks(content) {
		dataIdx = append(dataIdx, b.img.Append(blk))
	}
	entry := fsimage.EncodeListBlock(fsimage.MagicFile, filepath.Base(path), dataIdx)
	return b.img.Append(entry), nil
}

// addSplash rasterizes an input image (optionally stamped with a text
// label via github.com/golang/freetype through github.com/fogleman/gg,
// adapted from the teacher's tools/imageconvert) into a raw ARGB8888 data
// block and files it at /boot/splash.raw, creating /boot and splicing it
// into rootIdx's child list if the source tree did not already have one.
func (b *builder) addSplash(rootIdx uint32, path, label string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return err
	}

	dc := gg.NewContextForImage(src)
	bounds := src.Bounds()
	if label != "" {
		if face, ferr := loadLabelFace(24); ferr == nil {
			dc.SetFontFace(face)
			dc.SetRGB(1, 1, 1)
			dc.DrawStringAnchored(label, float64(bounds.Dx())/2, float64(bounds.Dy())-16, 0.5, 0.5)
		}
	}

	raw := encodeARGB8888(dc.Image())
	var dataIdx []uint32
	for _, blk := range fsimage.EncodeDataBlocks(raw) {
		dataIdx = append(dataIdx, b.img.Append(blk))
	}
	fileEntry := fsimage.EncodeListBlock(fsimage.MagicFile, "splash.raw", dataIdx)
	fileIdx := b.img.Append(fileEntry)

	if !b.haveBoot {
		bootDir := fsimage.EncodeListBlock(fsimage.MagicDir, "boot", []uint32{fileIdx})
		b.bootIdx = b.img.Append(bootDir)
		rootBlock, _ := b.img.Block(rootIdx)
		entry := fsimage.ParseListEntry(rootBlock)
		entry.Children = append(entry.Children, b.bootIdx)
		*rootBlock = fsimage.EncodeListBlock(fsimage.MagicDir, entry.Name, entry.Children)
		b.haveBoot = true
		return nil
	}

	bootBlock, _ := b.img.Block(b.bootIdx)
	entry := fsimage.ParseListEntry(bootBlock)
	entry.Children = append(entry.Children, fileIdx)
	*bootBlock = fsimage.EncodeListBlock(fsimage.MagicDir, entry.Name, entry.Children)
	return nil
}

// loadLabelFace loads the embedded Go regular typeface via
// github.com/golang/freetype's truetype parser at the given point size.
func loadLabelFace(points float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

// encodeARGB8888 converts img to the flat little-endian ARGB8888 byte
// stream the original tools/imageconvert produced, now destined for an
// image-FS data block rather than a standalone file.
func encodeARGB8888(img image.Image) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, 8+w*h*4)
	out[0], out[1], out[2], out[3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
	out[4], out[5], out[6], out[7] = byte(h), byte(h>>8), byte(h>>16), byte(h>>24)
	off := 8
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			out[off] = byte(bl / 257)
			out[off+1] = byte(g / 257)
			out[off+2] = byte(r / 257)
			out[off+3] = byte(a / 257)
			off += 4
		}
	}
	return out
}

// promoteRoot swaps whatever block index the top-level directory ended up
// at with block 0, and rewrites every directory's child-index list that
// referenced either slot, restoring spec §3's "the tree root is block
// zero" invariant without disturbing any other index.
func (b *builder) promoteRoot(rootIdx uint32) {
	if rootIdx == 0 {
		return
	}
	b.img.Blocks[0], b.img.Blocks[rootIdx] = b.img.Blocks[rootIdx], b.img.Blocks[0]
	if b.bootIdx == 0 {
		b.bootIdx = rootIdx
	} else if b.bootIdx == rootIdx {
		b.bootIdx = 0
	}
	for i := range b.img.Blocks {
		blk := &b.img.Blocks[i]
		magic := blk.Magic()
		if magic != fsimage.MagicDir && magic != fsimage.MagicFile {
			continue
		}
		entry := fsimage.ParseListEntry(blk)
		changed := false
		for j, c := range entry.Children {
			if c == 0 {
				entry.Children[j] = rootIdx
				changed = true
			} else if c == rootIdx {
				entry.Children[j] = 0
				changed = true
			}
		}
		if changed {
			*blk = fsimage.EncodeListBlock(magic, entry.Name, entry.Children)
		}
	}
}

// writeTo flattens the accumulated blocks and writes them to path.
func (b *builder) writeTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, blk := range b.img.Blocks {
		if _, err := w.Write(blk[:]); err != nil {
			return err
		}
	}
	return w.Flush()
}
