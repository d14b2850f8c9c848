// Package mediatypes is the closed set of media kinds the catalog tracks and
// the capability table attached to each kind.
//
// The type of a file is resolved once, when it enters the pipeline:
//
//	t := mediatypes.Resolve(path)
//	if t.Capabilities().Extract {
//	    // look for an embedded parameter graph
//	}
//
// Extensions map directly to a kind except ".webp", whose container is
// inspected to tell still images from animations. The package has no
// dependencies beyond the standard library so every other package can import it.
package mediatypes
