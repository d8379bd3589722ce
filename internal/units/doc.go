// Package units contains the computational units bundled with the worker.
//
// The oscillators (pendulum, spring_mass) implement Step and are streamed one
// iteration at a time; logistic and sweep only implement Run.
package units
