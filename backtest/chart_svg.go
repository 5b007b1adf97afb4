package backtest

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
)

type SVGChartOptions struct {
	Width  int
	Height int
}

func (o SVGChartOptions) withDefaults() SVGChartOptions {
	if o.Width <= 0 {
		o.Width = 980
	}
	if o.Height <= 0 {
		o.Height = 520
	}
	return o
}

const svgFont = "ui-monospace, Menlo, Monaco, Consolas, monospace"

// RenderEquitySVG draws the equity curve with a marker for every fill.
func RenderEquitySVG(title string, curve []EquityPoint, fills []Fill, opt SVGChartOptions) ([]byte, error) {
	opt = opt.withDefaults()
	if len(curve) < 2 {
		return nil, fmt.Errorf("not enough points: %d", len(curve))
	}

	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for _, p := range curve {
		minV = math.Min(minV, p.Value)
		maxV = math.Max(maxV, p.Value)
	}
	if math.IsInf(minV, 0) || math.IsInf(maxV, 0) {
		return nil, fmt.Errorf("invalid value range")
	}
	pad := (maxV - minV) * 0.05
	if pad <= 0 {
		pad = math.Max(math.Abs(minV)*0.02, 1)
	}
	minV -= pad
	maxV += pad

	// Layout
	w := float64(opt.Width)
	h := float64(opt.Height)
	mLeft := 80.0
	mRight := 20.0
	mTop := 24.0
	mBottom := 40.0
	plotW := w - mLeft - mRight
	plotH := h - mTop - mBottom
	if plotW <= 10 || plotH <= 10 {
		return nil, fmt.Errorf("invalid chart size")
	}

	valueToY := func(v float64) float64 {
		r := (v - minV) / (maxV - minV)
		r = math.Max(0, math.Min(1, r))
		return mTop + (1.0-r)*plotH
	}
	step := plotW / float64(len(curve)-1)
	xAt := func(i int) float64 { return mLeft + float64(i)*step }

	bg := "#0b1220"
	grid := "rgba(255,255,255,0.08)"
	line := "#38bdf8"
	buy := "#22c55e"
	sell := "#ef4444"
	txt := "rgba(255,255,255,0.85)"

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="` + strconv.Itoa(opt.Width) + `" height="` + strconv.Itoa(opt.Height) + `" viewBox="0 0 ` + strconv.Itoa(opt.Width) + ` ` + strconv.Itoa(opt.Height) + `">` + "\n")
	buf.WriteString(`<rect x="0" y="0" width="100%" height="100%" fill="` + bg + `"/>` + "\n")

	firstD := curve[0].Date
	lastD := curve[len(curve)-1].Date
	title = strings.TrimSpace(title)
	if title == "" {
		title = "equity"
	}
	writeText(&buf, mLeft, 16, txt, 14, title+"  "+firstD+" ~ "+lastD)

	for k := 0; k <= 5; k++ {
		y := mTop + (float64(k)/5.0)*plotH
		buf.WriteString(`<line x1="` + fmtFloat(mLeft) + `" y1="` + fmtFloat(y) + `" x2="` + fmtFloat(mLeft+plotW) + `" y2="` + fmtFloat(y) + `" stroke="` + grid + `" stroke-width="1"/>` + "\n")
		v := maxV - (float64(k)/5.0)*(maxV-minV)
		writeText(&buf, 6, y+4, txt, 12, fmtPrice(v))
	}

	var pts strings.Builder
	index := make(map[string]int, len(curve))
	for i, p := range curve {
		if i > 0 {
			pts.WriteByte(' ')
		}
		pts.WriteString(fmtFloat(xAt(i)) + "," + fmtFloat(valueToY(p.Value)))
		index[p.Date] = i
	}
	buf.WriteString(`<polyline points="` + pts.String() + `" fill="none" stroke="` + line + `" stroke-width="1.5"/>` + "\n")

	for _, f := range fills {
		i, ok := index[f.Date]
		if !ok {
			continue
		}
		col := buy
		if f.Side == SideSell {
			col = sell
		}
		buf.WriteString(`<circle cx="` + fmtFloat(xAt(i)) + `" cy="` + fmtFloat(valueToY(curve[i].Value)) + `" r="3.5" fill="` + col + `"/>` + "\n")
	}

	writeText(&buf, mLeft, mTop+plotH+mBottom-12, txt, 12, firstD)
	writeText(&buf, mLeft+plotW-70, mTop+plotH+mBottom-12, txt, 12, lastD)

	buf.WriteString(`</svg>` + "\n")
	return buf.Bytes(), nil
}

func writeText(buf *bytes.Buffer, x, y float64, color string, size int, s string) {
	buf.WriteString(`<text x="` + fmtFloat(x) + `" y="` + fmtFloat(y) + `" fill="` + color + `" font-size="` + strconv.Itoa(size) + `" font-family="` + svgFont + `">` +
		html.EscapeString(s) + `</text>` + "\n")
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}

func fmtPrice(p float64) string {
	a := math.Abs(p)
	if a >= 1000 {
		return strconv.FormatFloat(p, 'f', 0, 64)
	}
	if a >= 100 {
		return strconv.FormatFloat(p, 'f', 1, 64)
	}
	return strconv.FormatFloat(p, 'f', 2, 64)
}
