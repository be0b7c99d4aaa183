// Package views holds the builtin view types shipped with the pipeline.
//
// Builtins follow the same plugin contract as externally discovered views;
// nothing here has privileged access to the engine.
package views

import (
	"github.com/sysprov/pvm/view"
)

// RegisterBuiltins adds the builtin view types to a registry. Called by the
// engine before plugin discovery unless builtins are suppressed.
func RegisterBuiltins(reg *view.Registry) error {
	for _, t := range []view.Type{
		&ProcTreeView{},
		&CSVView{},
		&DBGView{},
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
