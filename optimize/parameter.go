package optimize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// Randomize draws the values of unbounded parameters from this
// range.
const (
	MIN = -10
	MAX = +10
)

// FloatParameter is a float model parameter.
type FloatParameter interface {
	Name() string
	Prior() float64
	OldPrior() float64
	Propose()
	Accept(int)
	Reject()
	String() string
	SetMin(float64)
	SetMax(float64)
	GetMin() float64
	GetMax() float64
	SetOnChange(func())
	SetProposalFunc(func(float64) float64)
	SetPriorFunc(func(float64) float64)
	Get() float64
	Set(float64)
	InRange() bool
	ValueInRange(float64) bool
}

// FloatParameterGenerator creates a parameter stored at the pointer.
type FloatParameterGenerator func(*float64, string) FloatParameter

// FloatParameters is a list of parameters.
type FloatParameters []FloatParameter

// Append adds a parameter.
func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

// Names returns the parameter names, is is reused if not nil.
func (p FloatParameters) Names(is []string) (s []string) {
	if len(is) == len(p) {
		s = is
	} else {
		s = make([]string, len(p))
	}
	for i, par := range p {
		s[i] = par.Name()
	}
	return
}

// Values returns the parameter values, iv is reused if not nil.
func (p FloatParameters) Values(iv []float64) (v []float64) {
	if len(iv) == len(p) {
		v = iv
	} else {
		v = make([]float64, len(p))
	}
	for i, par := range p {
		v[i] = par.Get()
	}
	return
}

// ValuesMap returns the parameter values by name.
func (p FloatParameters) ValuesMap() map[string]float64 {
	m := make(map[string]float64, len(p))
	for _, par := range p {
		m[par.Name()] = par.Get()
	}
	return m
}

// ValuesInRange checks that every value is inside the parameter
// boundaries.
func (p FloatParameters) ValuesInRange(vals []float64) bool {
	if len(vals) != len(p) {
		panic("incorrect number of parameters")
	}
	for i, par := range p {
		if !par.ValueInRange(vals[i]) {
			return false
		}
	}
	return true
}

// SetValues sets all the values.
func (p FloatParameters) SetValues(v []float64) error {
	if len(v) != len(p) {
		return fmt.Errorf("incorrect number of parameters: %d instead of %d", len(v), len(p))
	}
	for i, par := range p {
		par.Set(v[i])
	}
	return nil
}

// SetFromMap sets the values by name. Every name in the map should
// correspond to a parameter, the parameters absent from the map are
// not changed.
func (p FloatParameters) SetFromMap(m map[string]float64) error {
	byName := make(map[string]FloatParameter, len(p))
	for _, par := range p {
		byName[par.Name()] = par
	}
	for name := range m {
		if byName[name] == nil {
			return fmt.Errorf("unknown parameter: %s", name)
		}
	}
	for _, par := range p {
		if v, ok := m[par.Name()]; ok {
			par.Set(v)
		}
	}
	return nil
}

// ReadFloats parses whitespace separated floats.
func ReadFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	result := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		result[i] = x
	}
	return result, nil
}

// ReadLine sets the values from a trajectory line (iteration,
// likelihood and the values).
func (p FloatParameters) ReadLine(l string) error {
	v, err := ReadFloats(l)
	if err != nil {
		return err
	}
	if len(v) < 2 {
		return fmt.Errorf("trajectory line is too short")
	}
	return p.SetValues(v[2:])
}

// ReadFromJSON sets the values from a JSON file with a name to value
// map.
func (p FloatParameters) ReadFromJSON(fn string) error {
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return p.SetFromMap(m)
}

// MarshalJSON encodes the parameters as a name to value object
// keeping the parameter order.
func (p FloatParameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, par := range p {
		if i != 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(par.Name())
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(par.Get())
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON sets the parameter values from a name to value
// object.
func (p *FloatParameters) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return p.SetFromMap(m)
}

// Randomize sets every parameter to a uniformly distributed value
// inside its boundaries.
func (p FloatParameters) Randomize() {
	for _, par := range p {
		min := math.Max(MIN, par.GetMin())
		max := math.Min(MAX, par.GetMax())
		par.Set(min + rand.Float64()*(max-min))
	}
}

// InRange checks that all the values are inside the boundaries.
func (p FloatParameters) InRange() bool {
	for _, par := range p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

// NamesString returns tab separated names.
func (p FloatParameters) NamesString() string {
	return strings.Join(p.Names(nil), "\t")
}

// ValuesString returns tab separated values.
func (p FloatParameters) ValuesString() string {
	s := make([]string, len(p))
	for i, par := range p {
		s[i] = par.String()
	}
	return strings.Join(s, "\t")
}

// BasicFloatParameter is a float parameter with boundaries, a prior
// and a proposal function.
type BasicFloatParameter struct {
	*float64
	old          float64
	name         string
	priorFunc    func(float64) float64
	proposalFunc func(float64) float64
	min          float64
	max          float64
	onChange     func()
}

// NewBasicFloatParameter creates a parameter stored at par.
func NewBasicFloatParameter(par *float64, name string) *BasicFloatParameter {
	return &BasicFloatParameter{
		float64:      par,
		name:         name,
		priorFunc:    FlatPrior(),
		proposalFunc: NormalProposal(1),
		min:          math.Inf(-1),
		max:          math.Inf(+1),
	}
}

// BasicFloatParameterGenerator is a FloatParameterGenerator for
// BasicFloatParameter.
func BasicFloatParameterGenerator(par *float64, name string) FloatParameter {
	return NewBasicFloatParameter(par, name)
}

// SetMin sets the lower boundary.
func (p *BasicFloatParameter) SetMin(min float64) {
	p.min = min
}

// SetMax sets the upper boundary.
func (p *BasicFloatParameter) SetMax(max float64) {
	p.max = max
}

// SetPriorFunc sets the log prior density.
func (p *BasicFloatParameter) SetPriorFunc(f func(float64) float64) {
	p.priorFunc = f
}

// SetProposalFunc sets the proposal function.
func (p *BasicFloatParameter) SetProposalFunc(f func(float64) float64) {
	p.proposalFunc = f
}

// SetOnChange sets the function called after every value change.
func (p *BasicFloatParameter) SetOnChange(f func()) {
	p.onChange = f
}

// Get returns the value.
func (p *BasicFloatParameter) Get() float64 {
	return *p.float64
}

// Set sets the value.
func (p *BasicFloatParameter) Set(v float64) {
	if *p.float64 == v {
		return
	}
	*p.float64 = v
	p.changed()
}

func (p *BasicFloatParameter) changed() {
	if p.onChange != nil {
		p.onChange()
	}
}

// GetMin returns the lower boundary.
func (p *BasicFloatParameter) GetMin() float64 {
	return p.min
}

// GetMax returns the upper boundary.
func (p *BasicFloatParameter) GetMax() float64 {
	return p.max
}

// ValueInRange checks v against the boundaries.
func (p *BasicFloatParameter) ValueInRange(v float64) bool {
	return v >= p.min && v <= p.max
}

// InRange checks the value against the boundaries.
func (p *BasicFloatParameter) InRange() bool {
	return p.ValueInRange(*p.float64)
}

// Name returns the parameter name.
func (p *BasicFloatParameter) Name() string {
	return p.name
}

// Prior returns the log prior of the value.
func (p *BasicFloatParameter) Prior() float64 {
	return p.priorFunc(*p.float64)
}

// OldPrior returns the log prior of the value before the proposal.
func (p *BasicFloatParameter) OldPrior() float64 {
	return p.priorFunc(p.old)
}

// reflect moves the value back inside the boundaries.
func (p *BasicFloatParameter) reflect() {
	*p.float64 = reflectInto(*p.float64, p.min, p.max)
}

// Propose replaces the value by a proposed one.
func (p *BasicFloatParameter) Propose() {
	p.old, *p.float64 = *p.float64, p.proposalFunc(*p.float64)
	p.reflect()
	p.changed()
}

// Reject restores the value before the proposal.
func (p *BasicFloatParameter) Reject() {
	*p.float64, p.old = p.old, *p.float64
	p.changed()
}

// Accept is called if the proposal is accepted.
func (p *BasicFloatParameter) Accept(iter int) {
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.float64, 'f', 6, 64)
}
