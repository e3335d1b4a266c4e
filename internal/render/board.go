package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/park285/salvo/internal/grid"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options controls what a board image reveals.
type Options struct {
	// ShowShips draws afloat ships. Sunk ships are always drawn.
	ShowShips bool
	Title     string
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, g *grid.Grid, opts Options) ([]byte, error)
}

type svgBoardRenderer struct {
	cell   int
	margin int
	header int
}

func NewBoardRenderer() BoardRenderer {
	return &svgBoardRenderer{cell: 36, margin: 28, header: 30}
}

var (
	waterColor = "#1d4e89"
	gridLine   = "#3f78b5"
	shipColor  = "#8a9199"
	sunkColor  = "#4a2f2f"
	hitColor   = "#e63946"
	missColor  = "#f1faee"

	backgroundColor = color.NRGBA{R: 17, G: 24, B: 39, A: 255}
	labelColor      = color.NRGBA{R: 226, G: 232, B: 240, A: 255}
)

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, g *grid.Grid, opts Options) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("grid is nil")
	}
	boardPx := g.Size * r.cell
	width := boardPx + r.margin*2
	height := boardPx + r.margin*2 + r.header
	origin := image.Point{X: r.margin, Y: r.margin + r.header}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	board, err := rasterize(r.boardSVG(g, opts), boardPx)
	if err != nil {
		return nil, err
	}
	draw.Draw(img, image.Rect(origin.X, origin.Y, origin.X+boardPx, origin.Y+boardPx), board, image.Point{}, draw.Over)

	drawLabels(img, g.Size, r.cell, origin)
	if t := strings.TrimSpace(opts.Title); t != "" {
		drawText(img, t, r.margin, r.margin/2+basicfont.Face7x13.Ascent)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// boardSVG lays out water, ships and shot markers in board pixel space.
func (r *svgBoardRenderer) boardSVG(g *grid.Grid, opts Options) []byte {
	size := g.Size * r.cell
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, size, size, size, size)
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`, size, size, waterColor)
	for i := 1; i < g.Size; i++ {
		p := i * r.cell
		fmt.Fprintf(&b, `<line x1="%d" y1="0" x2="%d" y2="%d" stroke="%s" stroke-width="1"/>`, p, p, size, gridLine)
		fmt.Fprintf(&b, `<line x1="0" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="1"/>`, p, size, p, gridLine)
	}

	pad := r.cell / 8
	for _, s := range g.Ships {
		sunk := g.IsDestroyed(s)
		if !sunk && !opts.ShowShips {
			continue
		}
		fill := shipColor
		if sunk {
			fill = sunkColor
		}
		first, last := s.Cells[0], s.Cells[len(s.Cells)-1]
		x, y := first.Col*r.cell+pad, first.Row*r.cell+pad
		w := (last.Col-first.Col+1)*r.cell - 2*pad
		h := (last.Row-first.Row+1)*r.cell - 2*pad
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" rx="%d" fill="%s"/>`, x, y, w, h, pad, fill)
	}

	for _, c := range g.ShotsReceived {
		cx, cy := c.Col*r.cell+r.cell/2, c.Row*r.cell+r.cell/2
		if _, hit := g.ShipAt(c); hit {
			fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s"/>`, cx, cy, r.cell*3/10, hitColor)
			continue
		}
		fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s"/>`, cx, cy, r.cell/8, missColor)
	}
	b.WriteString(`</svg>`)
	return []byte(b.String())
}

func rasterize(svg []byte, size int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse board svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)
	return img, nil
}

// drawLabels writes column letters above and row numbers left of the board.
func drawLabels(dst draw.Image, n, cell int, origin image.Point) {
	face := basicfont.Face7x13
	for i := 0; i < n; i++ {
		center := i*cell + cell/2
		col := string(rune('A' + i))
		drawCentered(dst, face, col, origin.X+center, origin.Y-6)
		row := fmt.Sprintf("%d", i+1)
		drawCentered(dst, face, row, origin.X-14, origin.Y+center+face.Ascent/2)
	}
}

func drawText(dst draw.Image, text string, x, baseline int) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(labelColor), Face: basicfont.Face7x13}
	d.Dot = fixed.P(x, baseline)
	d.DrawString(text)
}

func drawCentered(dst draw.Image, face font.Face, text string, centerX, baseline int) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(labelColor), Face: face}
	w := d.MeasureString(text).Ceil()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}
