// Package catalog compiles CUE phase catalogs into phase definitions.
//
// A catalog is a CUE package with one struct per phase under "phase":
//
//	phase: click_shift: {
//		kind:     "packet"
//		requires: ["player", "container"]
//		buttons:  ["BUTTON_PRIMARY", "MODE_SHIFT_CLICK", "CLICK_INSIDE_WINDOW"]
//		variant:  "shift"
//	}
//
// Each phase is unified with the embedded #Phase schema, compiled into an
// ir.PhaseSpec, validated, and registered next to the built-in phases.
package catalog
