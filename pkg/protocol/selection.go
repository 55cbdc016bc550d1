package protocol

// SelectionKind names the class of viewport element a suspended command waits for.
type SelectionKind string

const (
	SelectEdges   SelectionKind = "edges"
	SelectFaces   SelectionKind = "faces"
	SelectObjects SelectionKind = "objects"
)

// Valid reports whether k is one of the three known selection kinds.
func (k SelectionKind) Valid() bool {
	switch k {
	case SelectEdges, SelectFaces, SelectObjects:
		return true
	default:
		return false
	}
}

// Prefix returns the sub-element name prefix for k ("Edge", "Face").
// Objects have no prefix.
func (k SelectionKind) Prefix() string {
	switch k {
	case SelectEdges:
		return "Edge"
	case SelectFaces:
		return "Face"
	default:
		return ""
	}
}

// Singular returns the kind's element noun, e.g. "edge".
func (k SelectionKind) Singular() string {
	switch k {
	case SelectEdges:
		return "edge"
	case SelectFaces:
		return "face"
	default:
		return "object"
	}
}
