package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// recurrent is one direction of one encoder layer.
type recurrent interface {
	forward(x *mat.Dense, reverse bool) *cellPass
	// backward accumulates parameter gradients for dH (gradient w.r.t. the
	// hidden output at each position) and returns the gradient w.r.t. x.
	backward(p *cellPass, dH *mat.Dense) *mat.Dense
	params() []*Param
}

// cellPass holds everything a direction cached while running forward.
// Rows are indexed by sequence position, not by visit order.
type cellPass struct {
	x       *mat.Dense
	reverse bool
	h       *mat.Dense
	hPrev   *mat.Dense
	gates   *mat.Dense
	c       *mat.Dense // lstm
	cPrev   *mat.Dense // lstm
	hProj   *mat.Dense // gru: U_n·h + b_hn
}

func newRecurrent(cell Cell, prefix string, in, hidden int, rng *rand.Rand) recurrent {
	bound := 1 / math.Sqrt(float64(hidden))
	switch cell {
	case CellGRU:
		return &gru{
			hidden: hidden,
			wx:     newParam(prefix+".wx", in, 3*hidden, bound, rng),
			wh:     newParam(prefix+".wh", hidden, 3*hidden, bound, rng),
			bx:     newParam(prefix+".bx", 1, 3*hidden, bound, rng),
			bh:     newParam(prefix+".bh", 1, 3*hidden, bound, rng),
		}
	default:
		return &lstm{
			hidden: hidden,
			wx:     newParam(prefix+".wx", in, 4*hidden, bound, rng),
			wh:     newParam(prefix+".wh", hidden, 4*hidden, bound, rng),
			b:      newParam(prefix+".b", 1, 4*hidden, bound, rng),
		}
	}
}

// lstm gate layout along the 4H axis: input, forget, cell, output.
type lstm struct {
	hidden int
	wx     *Param
	wh     *Param
	b      *Param
}

func (c *lstm) params() []*Param { return []*Param{c.wx, c.wh, c.b} }

func (c *lstm) forward(x *mat.Dense, reverse bool) *cellPass {
	n, _ := x.Dims()
	h := c.hidden
	p := &cellPass{
		x:       x,
		reverse: reverse,
		h:       mat.NewDense(n, h, nil),
		hPrev:   mat.NewDense(n, h, nil),
		c:       mat.NewDense(n, h, nil),
		cPrev:   mat.NewDense(n, h, nil),
		gates:   mat.NewDense(n, 4*h, nil),
	}

	var xProj mat.Dense
	xProj.Mul(x, c.wx.Value)
	bias := c.b.Value.RawRowView(0)
	rec := mat.NewVecDense(4*h, nil)

	hPrev := make([]float64, h)
	cPrev := make([]float64, h)
	for _, t := range positions(n, reverse) {
		rec.MulVec(c.wh.Value.T(), mat.NewVecDense(h, hPrev))
		copy(p.hPrev.RawRowView(t), hPrev)
		copy(p.cPrev.RawRowView(t), cPrev)

		a := p.gates.RawRowView(t)
		xr := xProj.RawRowView(t)
		for j := range a {
			a[j] = xr[j] + rec.AtVec(j) + bias[j]
		}
		ct := p.c.RawRowView(t)
		ht := p.h.RawRowView(t)
		for j := 0; j < h; j++ {
			i := sigmoid(a[j])
			f := sigmoid(a[h+j])
			g := math.Tanh(a[2*h+j])
			o := sigmoid(a[3*h+j])
			a[j], a[h+j], a[2*h+j], a[3*h+j] = i, f, g, o
			ct[j] = f*cPrev[j] + i*g
			ht[j] = o * math.Tanh(ct[j])
		}
		hPrev, cPrev = ht, ct
	}
	return p
}

func (c *lstm) backward(p *cellPass, dH *mat.Dense) *mat.Dense {
	n, _ := p.x.Dims()
	h := c.hidden
	dA := mat.NewDense(n, 4*h, nil)
	dhNext := make([]float64, h)
	dcNext := make([]float64, h)
	back := mat.NewVecDense(h, nil)

	order := positions(n, p.reverse)
	for s := len(order) - 1; s >= 0; s-- {
		t := order[s]
		g := p.gates.RawRowView(t)
		ct := p.c.RawRowView(t)
		cp := p.cPrev.RawRowView(t)
		dh := dH.RawRowView(t)
		da := dA.RawRowView(t)
		for j := 0; j < h; j++ {
			i, f, gg, o := g[j], g[h+j], g[2*h+j], g[3*h+j]
			tc := math.Tanh(ct[j])
			dhj := dh[j] + dhNext[j]
			dc := dhj*o*(1-tc*tc) + dcNext[j]
			da[j] = dc * gg * i * (1 - i)
			da[h+j] = dc * cp[j] * f * (1 - f)
			da[2*h+j] = dc * i * (1 - gg*gg)
			da[3*h+j] = dhj * tc * o * (1 - o)
			dcNext[j] = dc * f
		}
		back.MulVec(c.wh.Value, mat.NewVecDense(4*h, da))
		for j := range dhNext {
			dhNext[j] = back.AtVec(j)
		}
	}

	accumulate(c.wx.Grad, p.x.T(), dA)
	accumulate(c.wh.Grad, p.hPrev.T(), dA)
	addColumnSums(c.b.Grad, dA)

	var dx mat.Dense
	dx.Mul(dA, c.wx.Value.T())
	return &dx
}

// gru gate layout along the 3H axis: reset, update, new.
type gru struct {
	hidden int
	wx     *Param
	wh     *Param
	bx     *Param
	bh     *Param
}

func (c *gru) params() []*Param { return []*Param{c.wx, c.wh, c.bx, c.bh} }

func (c *gru) forward(x *mat.Dense, reverse bool) *cellPass {
	n, _ := x.Dims()
	h := c.hidden
	p := &cellPass{
		x:       x,
		reverse: reverse,
		h:       mat.NewDense(n, h, nil),
		hPrev:   mat.NewDense(n, h, nil),
		gates:   mat.NewDense(n, 3*h, nil),
		hProj:   mat.NewDense(n, h, nil),
	}

	var xProj mat.Dense
	xProj.Mul(x, c.wx.Value)
	bx := c.bx.Value.RawRowView(0)
	bh := c.bh.Value.RawRowView(0)
	rec := mat.NewVecDense(3*h, nil)

	hPrev := make([]float64, h)
	for _, t := range positions(n, reverse) {
		rec.MulVec(c.wh.Value.T(), mat.NewVecDense(h, hPrev))
		copy(p.hPrev.RawRowView(t), hPrev)

		xr := xProj.RawRowView(t)
		g := p.gates.RawRowView(t)
		hn := p.hProj.RawRowView(t)
		ht := p.h.RawRowView(t)
		for j := 0; j < h; j++ {
			r := sigmoid(xr[j] + bx[j] + rec.AtVec(j) + bh[j])
			z := sigmoid(xr[h+j] + bx[h+j] + rec.AtVec(h+j) + bh[h+j])
			hn[j] = rec.AtVec(2*h+j) + bh[2*h+j]
			nj := math.Tanh(xr[2*h+j] + bx[2*h+j] + r*hn[j])
			g[j], g[h+j], g[2*h+j] = r, z, nj
			ht[j] = (1-z)*nj + z*hPrev[j]
		}
		hPrev = ht
	}
	return p
}

func (c *gru) backward(p *cellPass, dH *mat.Dense) *mat.Dense {
	n, _ := p.x.Dims()
	h := c.hidden
	dXa := mat.NewDense(n, 3*h, nil)
	dHa := mat.NewDense(n, 3*h, nil)
	dhNext := make([]float64, h)
	back := mat.NewVecDense(h, nil)

	order := positions(n, p.reverse)
	for s := len(order) - 1; s >= 0; s-- {
		t := order[s]
		g := p.gates.RawRowView(t)
		hp := p.hPrev.RawRowView(t)
		hn := p.hProj.RawRowView(t)
		dh := dH.RawRowView(t)
		dxa := dXa.RawRowView(t)
		dha := dHa.RawRowView(t)
		for j := 0; j < h; j++ {
			r, z, nj := g[j], g[h+j], g[2*h+j]
			dhj := dh[j] + dhNext[j]
			dan := dhj * (1 - z) * (1 - nj*nj)
			daz := dhj * (hp[j] - nj) * z * (1 - z)
			dar := dan * hn[j] * r * (1 - r)
			dxa[j], dxa[h+j], dxa[2*h+j] = dar, daz, dan
			dha[j], dha[h+j], dha[2*h+j] = dar, daz, dan*r
			dhNext[j] = dhj * z
		}
		back.MulVec(c.wh.Value, mat.NewVecDense(3*h, dha))
		for j := range dhNext {
			dhNext[j] += back.AtVec(j)
		}
	}

	accumulate(c.wx.Grad, p.x.T(), dXa)
	accumulate(c.wh.Grad, p.hPrev.T(), dHa)
	addColumnSums(c.bx.Grad, dXa)
	addColumnSums(c.bh.Grad, dHa)

	var dx mat.Dense
	dx.Mul(dXa, c.wx.Value.T())
	return &dx
}

func layerPrefix(layer int, reverse bool) string {
	dir := "fwd"
	if reverse {
		dir = "bwd"
	}
	return fmt.Sprintf("layer%d.%s", layer, dir)
}
