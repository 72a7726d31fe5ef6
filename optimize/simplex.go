package optimize

import (
	"math"
)

// Convergence constants of the downhill simplex.
const (
	TINY  = 1e-10
	SMALL = 1e-6
)

// DS is the Nelder-Mead downhill simplex optimizer. Every simplex
// vertex is a model copy.
type DS struct {
	BaseOptimizer
	delta  float64
	ftol   float64
	repeat bool
	oldL   float64
	points []Optimizable
	psum   []float64
	vertex []FloatParameters
	lnL    []float64
	newOpt Optimizable
	newPar FloatParameters
}

// NewDS creates a new downhill simplex optimizer.
func NewDS() (ds *DS) {
	ds = &DS{
		BaseOptimizer: BaseOptimizer{
			name:      "simplex",
			repPeriod: 10,
		},
		delta: 1,
		ftol:  TINY,
	}
	return
}

// likelihood returns the likelihood of a vertex or -Inf if it is
// out of the boundaries.
func (ds *DS) likelihood(opt Optimizable, par FloatParameters) float64 {
	if !par.InRange() {
		return math.Inf(-1)
	}
	ds.calls++
	return opt.Likelihood()
}

// createSimplex creates a simplex around opt.
func (ds *DS) createSimplex(opt Optimizable) {
	parameters := opt.GetFloatParameters()
	ds.points = make([]Optimizable, len(parameters)+1)
	ds.vertex = make([]FloatParameters, len(ds.points))
	ds.lnL = make([]float64, len(ds.points))
	ds.points[0] = opt
	ds.vertex[0] = parameters
	for i := 1; i < len(ds.points); i++ {
		point := opt.Copy()
		ds.points[i] = point
		ds.vertex[i] = point.GetFloatParameters()
		par := ds.vertex[i][i-1]
		par.Set(par.Get() + ds.delta)
	}
	for i := range ds.points {
		ds.lnL[i] = ds.likelihood(ds.points[i], ds.vertex[i])
	}
}

// amotry extrapolates by factor fac through the face of the simplex
// across from the low point, tries it, and replaces the low point if
// the new point is better.
func (ds *DS) amotry(ilo int, fac float64) float64 {
	if ds.newOpt == nil {
		ds.newOpt = ds.points[0].Copy()
		ds.newPar = ds.newOpt.GetFloatParameters()
	}
	ds.calcPsum()
	ndim := len(ds.newPar)
	fac1 := (1 - fac) / float64(ndim)
	fac2 := fac1 - fac
	for j := 0; j < ndim; j++ {
		ds.newPar[j].Set(ds.psum[j]*fac1 - ds.vertex[ilo][j].Get()*fac2)
	}
	l := ds.likelihood(ds.newOpt, ds.newPar)
	if l > ds.lnL[ilo] {
		ds.points[ilo], ds.newOpt = ds.newOpt, ds.points[ilo]
		ds.vertex[ilo], ds.newPar = ds.newPar, ds.vertex[ilo]
		ds.lnL[ilo] = l
	}
	return l
}

func (ds *DS) calcPsum() {
	if ds.psum == nil {
		ds.psum = make([]float64, len(ds.vertex[0]))
	}
	for i := range ds.psum {
		ds.psum[i] = 0
		for _, parameters := range ds.vertex {
			ds.psum[i] += parameters[i].Get()
		}
	}
}

// Run starts the optimization.
func (ds *DS) Run(iterations int) {
	ds.SaveStart()
	ds.PrintHeader()
	model := ds.Optimizable
	ds.createSimplex(model.Copy())

	// lowest (worst), next-lowest and highest points
	var ilo, inlo, ihi int
	var llo, lnlo, lhi float64
	for ; ds.i < iterations; ds.i++ {
		if ds.lnL[0] < ds.lnL[1] {
			ilo, inlo, ihi = 0, 1, 1
		} else {
			ilo, inlo, ihi = 1, 0, 0
		}
		llo, lnlo, lhi = ds.lnL[ilo], ds.lnL[inlo], ds.lnL[ihi]
		for i := 2; i < len(ds.points); i++ {
			if ds.lnL[i] >= lhi {
				lhi = ds.lnL[i]
				ihi = i
			}
			if ds.lnL[i] < llo {
				lnlo = llo
				inlo = ilo
				llo = ds.lnL[i]
				ilo = i
			} else if ds.lnL[i] < lnlo {
				lnlo = ds.lnL[i]
				inlo = i
			}
		}
		if lhi > ds.maxL {
			ds.maxL = lhi
			ds.maxLPar = ds.vertex[ihi].Values(ds.maxLPar)
		}
		if ds.i%ds.repPeriod == 0 {
			log.Debugf("%d: L=%f (%f)", ds.i, lhi, lhi-llo)
			ds.parameters.SetValues(ds.vertex[ihi].Values(nil))
		}
		ds.PrintLine(lhi, ds.repPeriod)

		rtol := 2 * math.Abs(lhi-llo) / (math.Abs(llo) + math.Abs(lhi) + TINY)
		if rtol < ds.ftol {
			if ds.repeat && math.Abs(ds.oldL-lhi) < SMALL {
				break
			}
			ds.repeat = true
			ds.oldL = lhi
			log.Info("Converged, restarting the simplex")
			ds.createSimplex(ds.points[ihi])
			continue
		}
		l := ds.amotry(ilo, -1)
		switch {
		case l >= lhi:
			ds.amotry(ilo, 2)
		case l <= lnlo:
			lsave := llo
			if ds.amotry(ilo, 0.5) <= lsave {
				// contract around the best point
				for i, point := range ds.points {
					if i == ihi {
						continue
					}
					for j := range ds.vertex[i] {
						ds.vertex[i][j].Set(0.5 * (ds.vertex[i][j].Get() + ds.vertex[ihi][j].Get()))
					}
					ds.lnL[i] = ds.likelihood(point, ds.vertex[i])
				}
			}
		}
		if ds.signalled() {
			break
		}
	}
	if ds.i == iterations {
		log.Warningf("Iterations exceeded (%d)", iterations)
	}

	ds.SetMaxLParameters()
	ds.l = ds.maxL
	ds.SaveCheckpoint(true)
	ds.saveDeltaT()
}
