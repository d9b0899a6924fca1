// Package manifest loads arc manifests: the stores an arc declares, the
// entities they start with, and the particles connected to them.
//
// Manifests are YAML (.yaml, .yml, .json) or CUE (.cue), chosen by file
// extension. Both formats decode strictly: an unknown field is an error.
//
//	name: shop
//	stores:
//	  - id: bar
//	    kind: collection
//	    seed:
//	      - id: v1
//	        data: {title: "first"}
//	particles:
//	  - id: P1
//	    handles:
//	      - store: bar
//	        caps: read|write
package manifest
