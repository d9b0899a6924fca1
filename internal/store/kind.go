package store

import "fmt"

// Kind identifies the shape of a store.
type Kind int

const (
	KindVariable Kind = iota + 1
	KindCollection
	KindBigCollection
)

// String returns the manifest spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindCollection:
		return "collection"
	case KindBigCollection:
		return "bigcollection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the manifest spelling of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "variable":
		return KindVariable, nil
	case "collection":
		return KindCollection, nil
	case "bigcollection":
		return KindBigCollection, nil
	default:
		return 0, fmt.Errorf("unknown store kind %q (want variable, collection or bigcollection)", s)
	}
}
