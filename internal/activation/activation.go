// Package activation holds the closed set of hidden-layer activations.
package activation

import (
	"math"
	"sort"
)

// Function pairs an activation with its derivative.
//
// Backward is expressed in terms of the activated value y = Forward(x), not x.
type Function struct {
	Name     string
	Forward  func(x float64) float64
	Backward func(y float64) float64
}

// Logistic is the sigmoid squashing function.
var Logistic = Function{
	Name:     "logistic",
	Forward:  func(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) },
	Backward: func(y float64) float64 { return y * (1 - y) },
}

// ReLU is the rectified-linear function.
var ReLU = Function{
	Name:    "relu",
	Forward: func(x float64) float64 { return math.Max(0, x) },
	Backward: func(y float64) float64 {
		if y > 0 {
			return 1
		}
		return 0
	},
}

var registry = map[string]Function{
	Logistic.Name: Logistic,
	"sigmoid":     Logistic,
	ReLU.Name:     ReLU,
}

// Lookup returns the activation registered under name.
func Lookup(name string) (Function, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names lists every accepted activation name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
